package pcrs_test

import (
	"crypto/sha512"
	"fmt"
	"testing"

	"github.com/DIMO-Network/nsm-phony/pkg/pcrs"
	"github.com/stretchr/testify/require"
)

func seedValues(format string, offset int) [pcrs.PCRCount]string {
	var values [pcrs.PCRCount]string
	for i := range values {
		values[i] = fmt.Sprintf(format, i+offset)
	}
	return values
}

func TestDefault(t *testing.T) {
	t.Parallel()
	set := pcrs.Default()
	for i := range set {
		require.Equal(t, [pcrs.DigestSize]byte{}, set[i], "PCR%d", i)
	}
	require.Len(t, set.Map(), pcrs.PCRCount)
}

func TestSeed(t *testing.T) {
	t.Parallel()

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()
		a, err := pcrs.Seed(seedValues("pcr%d", 0))
		require.NoError(t, err)
		b, err := pcrs.Seed(seedValues("pcr%d", 0))
		require.NoError(t, err)
		require.Equal(t, a, b)

		want := sha512.Sum384([]byte("pcr0"))
		require.Equal(t, want, a[0])
	})

	t.Run("different seeds differ", func(t *testing.T) {
		t.Parallel()
		a, err := pcrs.Seed(seedValues("pcr%d", 0))
		require.NoError(t, err)
		c, err := pcrs.Seed(seedValues("pcr%d", 1))
		require.NoError(t, err)
		require.NotEqual(t, a, c)
	})

	t.Run("single slot differs", func(t *testing.T) {
		t.Parallel()
		values := seedValues("pcr%d", 0)
		a, err := pcrs.Seed(values)
		require.NoError(t, err)
		values[17] = "something else"
		b, err := pcrs.Seed(values)
		require.NoError(t, err)
		require.NotEqual(t, a, b)
		require.Equal(t, a[16], b[16])
		require.NotEqual(t, a[17], b[17])
	})

	t.Run("empty seed", func(t *testing.T) {
		t.Parallel()
		values := seedValues("pcr%d", 0)
		values[3] = ""
		_, err := pcrs.Seed(values)
		require.ErrorIs(t, err, pcrs.ErrInvalidSeed)
	})
}

func TestRand(t *testing.T) {
	t.Parallel()
	a := pcrs.Rand()
	b := pcrs.Rand()
	require.NotEqual(t, a, b)
	require.NotEqual(t, pcrs.Default(), a)
}

func TestMapRoundTrip(t *testing.T) {
	t.Parallel()
	set := pcrs.Rand()
	m := set.Map()
	require.Len(t, m, pcrs.PCRCount)

	// the map holds copies
	m[0][0] ^= 0xff
	require.NotEqual(t, m[0][0], set[0][0])
	m[0][0] ^= 0xff

	back, err := pcrs.FromMap(m)
	require.NoError(t, err)
	require.Equal(t, set, back)
}

func TestFromMap(t *testing.T) {
	t.Parallel()

	t.Run("absent slots are zero", func(t *testing.T) {
		t.Parallel()
		value := sha512.Sum384([]byte("kernel"))
		set, err := pcrs.FromMap(map[uint][]byte{4: value[:]})
		require.NoError(t, err)
		require.Equal(t, value, set[4])
		require.Equal(t, [pcrs.DigestSize]byte{}, set[0])
	})

	t.Run("index out of range", func(t *testing.T) {
		t.Parallel()
		_, err := pcrs.FromMap(map[uint][]byte{pcrs.PCRCount: make([]byte, pcrs.DigestSize)})
		require.ErrorIs(t, err, pcrs.ErrInvalidIndex)
	})

	t.Run("wrong length", func(t *testing.T) {
		t.Parallel()
		_, err := pcrs.FromMap(map[uint][]byte{1: make([]byte, 32)})
		require.ErrorIs(t, err, pcrs.ErrInvalidLength)
	})
}

func TestGet(t *testing.T) {
	t.Parallel()
	set := pcrs.Rand()
	value, err := set.Get(5)
	require.NoError(t, err)
	require.Equal(t, set[5][:], value)

	_, err = set.Get(pcrs.PCRCount)
	require.ErrorIs(t, err, pcrs.ErrInvalidIndex)
}
