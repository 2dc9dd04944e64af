package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/shopspring/decimal"
)

// CrashDraw is the outcome sampled when a round opens. Seed and Multiplier
// stay server-side until the crash; Commitment may be published at start.
type CrashDraw struct {
	Multiplier decimal.Decimal
	Seed       string
	Commitment string
}

// Drawer samples crash points.
type Drawer interface {
	Draw(roundID uint64) CrashDraw
}

// SeededDrawer draws uniformly over the hundredths in [min, max] from
// HMAC-SHA256(seed, roundID) with a fresh random seed per round.
type SeededDrawer struct {
	lo, hi int64 // hundredths
}

func NewSeededDrawer(min, max decimal.Decimal) *SeededDrawer {
	return &SeededDrawer{
		lo: min.Shift(2).Ceil().IntPart(),
		hi: max.Shift(2).Floor().IntPart(),
	}
}

func (d *SeededDrawer) Draw(roundID uint64) CrashDraw {
	seed := GenerateSeed()
	return CrashDraw{
		Multiplier: MapToMultiplier(seed, roundID, d.lo, d.hi),
		Seed:       seed,
		Commitment: HashCommitment(seed),
	}
}

// MapToMultiplier is the deterministic part of a draw. An empty range
// collapses to lo.
func MapToMultiplier(seed string, roundID uint64, lo, hi int64) decimal.Decimal {
	h := hmac.New(sha256.New, []byte(seed))
	h.Write([]byte(strconv.FormatUint(roundID, 10)))
	sum := h.Sum(nil)

	if hi < lo {
		hi = lo
	}
	span := uint64(hi - lo + 1)
	n := lo + int64(binary.BigEndian.Uint64(sum[:8])%span)
	return decimal.New(n, -2)
}

// GenerateSeed returns 32 random bytes, hex encoded. crypto/rand.Read never
// returns an error since Go 1.24; it aborts the process if the kernel
// source fails, so there is nothing to handle here.
func GenerateSeed() string {
	var seed [32]byte
	_, _ = rand.Read(seed[:])
	return hex.EncodeToString(seed[:])
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// VerifyDraw recomputes a revealed round.
func VerifyDraw(seed, commitment string, roundID uint64, min, max, claimed decimal.Decimal) bool {
	if HashCommitment(seed) != commitment {
		return false
	}
	d := NewSeededDrawer(min, max)
	return MapToMultiplier(seed, roundID, d.lo, d.hi).Equal(claimed)
}

// FixedDrawer replays a list of crash points, repeating the last one.
type FixedDrawer struct {
	points []decimal.Decimal
	next   int
}

func NewFixedDrawer(points ...decimal.Decimal) *FixedDrawer {
	return &FixedDrawer{points: points}
}

func (d *FixedDrawer) Draw(roundID uint64) CrashDraw {
	p := d.points[d.next]
	if d.next < len(d.points)-1 {
		d.next++
	}
	seed := "fixed-" + strconv.FormatUint(roundID, 10)
	return CrashDraw{Multiplier: p, Seed: seed, Commitment: HashCommitment(seed)}
}
