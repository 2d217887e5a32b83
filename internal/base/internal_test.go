// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestEncodeVersionedKey(t *testing.T) {
	enc := EncodeVersionedKey(nil, []byte("foo"), 5)
	require.Len(t, enc, 3+EpochSuffixLen)
	require.Equal(t, []byte("foo"), enc[:3])

	k, err := DecodeVersionedKey(enc)
	require.NoError(t, err)
	require.Equal(t, "foo@5", k.String())

	k, err = DecodeVersionedKey(EncodeVersionedKey(nil, nil, EpochMax))
	require.NoError(t, err)
	require.Empty(t, k.UserKey)
	require.Equal(t, EpochMax, k.Epoch)

	_, err = DecodeVersionedKey([]byte("short"))
	require.True(t, errors.Is(err, ErrCorruption))
}

func TestVersionedKeyOrdering(t *testing.T) {
	// Within a user key the newest version sorts first, both bytewise on the
	// encoded form and through InternalCompare.
	var keys []InternalKey
	for _, uk := range []string{"a", "b", "c"} {
		for _, e := range []Epoch{0, 1, 7, 1 << 40, EpochMax} {
			keys = append(keys, MakeInternalKey([]byte(uk), e))
		}
	}
	shuffled := slices.Clone(keys)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	cmp := DefaultComparer.Compare
	slices.SortFunc(shuffled, func(a, b InternalKey) int { return InternalCompare(cmp, a, b) })
	for i := 1; i < len(shuffled); i++ {
		prev, cur := shuffled[i-1], shuffled[i]
		if bytes.Equal(prev.UserKey, cur.UserKey) {
			require.Greater(t, prev.Epoch, cur.Epoch)
		}
		a, b := prev.Encode(nil), cur.Encode(nil)
		require.Negative(t, bytes.Compare(a, b), "%s vs %s", prev, cur)
		require.Negative(t, CompareEncoded(cmp, a, b), "%s vs %s", prev, cur)
	}
}

func TestCompareEncodedPrefixKeys(t *testing.T) {
	// "a" is a prefix of "ab"; the decoded comparison must still order by
	// user key first regardless of the epoch suffix bytes.
	cmp := DefaultComparer.Compare
	a := EncodeVersionedKey(nil, []byte("a"), 0)
	ab := EncodeVersionedKey(nil, []byte("ab"), EpochMax)
	require.Negative(t, CompareEncoded(cmp, a, ab))
	require.Positive(t, CompareEncoded(cmp, ab, a))
}

func TestValueTags(t *testing.T) {
	v := EncodeValue(nil, InternalKeyKindSet, []byte("hello"))
	kind, payload, err := DecodeValue(v)
	require.NoError(t, err)
	require.Equal(t, InternalKeyKindSet, kind)
	require.Equal(t, []byte("hello"), payload)

	v = EncodeValue(nil, InternalKeyKindDelete, []byte("ignored"))
	require.Len(t, v, 1)
	kind, payload, err = DecodeValue(v)
	require.NoError(t, err)
	require.Equal(t, InternalKeyKindDelete, kind)
	require.Empty(t, payload)

	for _, bad := range [][]byte{nil, {7}, {byte(InternalKeyKindDelete), 'x'}} {
		_, _, err := DecodeValue(bad)
		require.True(t, errors.Is(err, ErrCorruption), "%v", bad)
	}
}

func TestParseInternalKV(t *testing.T) {
	kv := ParseInternalKV("a@3.SET:foo")
	require.Equal(t, "a@3.SET:foo", kv.String())
	kv = ParseInternalKV("b@inf.DEL")
	require.True(t, kv.IsTombstone())
	require.Equal(t, "b@inf.DEL", kv.String())
}

func TestValidateEpoch(t *testing.T) {
	err := ValidateEpoch(10, 9)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrExpiredEpoch))
	require.False(t, IsRetriableReadError(err))

	require.NoError(t, ValidateEpoch(10, 10))
	require.NoError(t, ValidateEpoch(10, 11))
	require.NoError(t, ValidateEpoch(EpochZero, EpochZero))
	require.NoError(t, ValidateEpoch(10, EpochMax))
}

func TestErrorMarks(t *testing.T) {
	err := errors.Wrapf(CorruptionErrorf("bad block %d", 3), "reading table %d", 7)
	require.True(t, errors.Is(err, ErrCorruption))
	require.Contains(t, err.Error(), "bad block 3")

	err = MarkCorruptionError(errors.New("boom"))
	require.True(t, errors.Is(err, ErrCorruption))
	require.False(t, errors.Is(err, ErrObjectStore))

	require.True(t, IsRetriableReadError(errors.Wrap(ErrTableNotFound, "get")))
	require.True(t, IsRetriableReadError(ErrVersionStale))
}
