// Package domain holds entities and store document shapes.
// No transport or lifecycle logic here.
package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

type (
	// RoomCode is the short human-shareable code participants dial.
	RoomCode string
	// RoomRef is the directory's internal document identifier, distinct
	// from the code.
	RoomRef string
)

type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomInactive RoomStatus = "inactive"
)

const RoomCodeLen = 4

var ErrBadRoomCode = errors.New("room code must be 4 decimal digits")

type Room struct {
	Ref       RoomRef
	Code      RoomCode
	Status    RoomStatus
	CreatedAt time.Time
	EndedAt   *time.Time
}

// NewRoomCode draws a fresh 4-digit code. Uniqueness is enforced by the
// directory at create time, not here.
func NewRoomCode() RoomCode {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		// The platform RNG is broken; nothing sane to fall back to.
		panic(err)
	}
	return RoomCode(fmt.Sprintf("%04d", n.Int64()))
}

func (c RoomCode) Validate() error {
	if len(c) != RoomCodeLen {
		return ErrBadRoomCode
	}
	for _, r := range c {
		if r < '0' || r > '9' {
			return ErrBadRoomCode
		}
	}
	return nil
}
