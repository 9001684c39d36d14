package models

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/VillaPay/VillaPay-Backend/utils"
	"github.com/speps/go-hashids/v2"
)

// ID is a reservation identifier that renders as an opaque hashid in JSON,
// keeping sequential database ids out of guest-facing URLs and payloads. The
// same encoding is accepted back on route path parameters via DecodePublicID.
type ID int64

var (
	hashOnce sync.Once
	dbHash   *hashids.HashID
)

// hasher builds the process-wide hashid codec on first use. The salt comes
// from the signing key, so encoded ids are stable across restarts of one
// deployment but differ between deployments.
func hasher() *hashids.HashID {
	hashOnce.Do(func() {
		hd := hashids.NewData()
		hd.MinLength = 32
		if c, err := utils.LoadConfig(utils.EnvPath); err == nil {
			hd.Salt = c.SigningKey
		}
		h, err := hashids.NewWithData(hd)
		if err != nil {
			panic(err)
		}
		dbHash = h
	})
	return dbHash
}

// MarshalJSON implements the encoding json interface.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == 0 {
		return json.Marshal(nil)
	}
	result, err := hasher().EncodeInt64([]int64{int64(id)})
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// DecodePublicID resolves a hashid path parameter into the numeric id.
func DecodePublicID(s string) (int64, error) {
	result, err := hasher().DecodeInt64WithError(s)
	if err != nil {
		return 0, err
	}
	if len(result) == 0 {
		return 0, errors.New("invalid ID")
	}
	return result[0], nil
}
