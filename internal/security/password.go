package security

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// dummyHashes holds one throwaway hash per cost (int -> func() []byte). An
// unknown username is compared against the hash for the hasher's own cost so
// it costs the same bcrypt work as a wrong password.
var dummyHashes sync.Map

// Bcrypt hashes and verifies passwords. A zero Cost means bcrypt.DefaultCost.
type Bcrypt struct {
	Cost int
}

func NewBcrypt(cost int) Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Bcrypt{Cost: cost}
}

func (b Bcrypt) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

// Hash hashes a plain text password with a fresh salt.
func (b Bcrypt) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), b.cost())
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Verify reports whether hash was produced from plain. Malformed hashes verify false.
func (b Bcrypt) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// VerifyTimingSafe verifies against a throwaway hash when hash is nil and
// always returns false in that case.
func (b Bcrypt) VerifyTimingSafe(plain string, hash *string) bool {
	if hash == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHashFor(b.cost()), []byte(plain))
		return false
	}
	return b.Verify(plain, *hash)
}

func dummyHashFor(cost int) []byte {
	v, _ := dummyHashes.LoadOrStore(cost, sync.OnceValue(func() []byte {
		return mustDummyHash(cost)
	}))
	return v.(func() []byte)()
}

func mustDummyHash(cost int) []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("edms-timing-equaliser"), cost)
	if err != nil {
		panic(err)
	}
	return h
}
