//
// Copyright © 2017 Ikey Doherty <ikey@solus-project.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := NewRequest(SubmitJob, []byte("reverse"), []byte("u1"), []byte("hello\x00world"))

	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))

	decoded, err := Decode(&buf, ArgCount)
	require.NoError(t, err)

	assert.Equal(t, MagicReq, decoded.Magic)
	assert.Equal(t, SubmitJob, decoded.Command)
	require.Len(t, decoded.Args, 3)
	assert.Equal(t, []byte("reverse"), decoded.Args[0])
	assert.Equal(t, []byte("u1"), decoded.Args[1])
	assert.Equal(t, []byte("hello\x00world"), decoded.Args[2])
}

func TestEncodeDecodeNoArgs(t *testing.T) {
	p := NewRequest(PreSleep)
	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))

	decoded, err := Decode(&buf, ArgCount)
	require.NoError(t, err)
	assert.Equal(t, PreSleep, decoded.Command)
	assert.Empty(t, decoded.Args)
}

func TestDecodeBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'X', 'X', 'X', 'X', 0, 0, 0, 1, 0, 0, 0, 0})
	_, err := Decode(&buf, ArgCount)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeShortArgRegion(t *testing.T) {
	p := NewRequest(CanDoTimeout, []byte("onlyfunction"))
	var buf bytes.Buffer
	require.NoError(t, p.Encode(&buf))

	_, err := Decode(&buf, ArgCount)
	assert.ErrorIs(t, err, ErrShortArgRegion)
}

func TestSplitArgsLastFieldKeepsEmbeddedNUL(t *testing.T) {
	args, err := SplitArgs([]byte("a\x00b\x00c\x00d"), 3)
	require.NoError(t, err)
	require.Len(t, args, 3)
	assert.Equal(t, []byte("a"), args[0])
	assert.Equal(t, []byte("b"), args[1])
	assert.Equal(t, []byte("c\x00d"), args[2])
}
