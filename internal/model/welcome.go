package model

import (
	"crypto/rand"
	"math/big"
)

// WelcomeMessageCount is the size of the welcome message catalog. IDs run
// from 1 to WelcomeMessageCount inclusive; the texts live with the UI.
const WelcomeMessageCount = 50

// RandomWelcomeMessageID picks a catalog entry uniformly at random.
func RandomWelcomeMessageID() int {
	n, err := rand.Int(rand.Reader, big.NewInt(WelcomeMessageCount))
	if err != nil {
		return 1
	}
	return int(n.Int64()) + 1
}
