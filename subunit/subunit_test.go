package subunit

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 17, 10, 30, 0, 250000000, time.UTC)

	tests := []struct {
		name string
		ev   Event
	}{
		{
			name: "status only",
			ev:   Event{Status: StatusInProgress},
		},
		{
			name: "test id and timestamp",
			ev: Event{
				Status:    StatusSuccess,
				TestID:    "tempest.api.identity.test_tokens.TokensV3Test.test_create_token",
				Timestamp: ts,
			},
		},
		{
			name: "tags",
			ev: Event{
				Status: StatusFail,
				TestID: "tempest.api.compute.test_servers",
				Tags:   []string{"worker-0", "smoke"},
			},
		},
		{
			name: "file content",
			ev: Event{
				Status:    StatusFail,
				TestID:    "tempest.api.volume.test_volumes",
				MIMEType:  "text/plain;charset=utf8",
				FileName:  "traceback",
				FileBytes: []byte("AssertionError: volume never became available"),
			},
		},
		{
			name: "eof and route code",
			ev: Event{
				Status:    StatusSkip,
				TestID:    "tempest.api.network.test_routers",
				RouteCode: "0",
				Runnable:  true,
				EOF:       true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewWriter(&buf).Write(tt.ev))

			got, err := NewReader(&buf).Next()
			require.NoError(t, err)
			assert.Equal(t, tt.ev.Status, got.Status)
			assert.Equal(t, tt.ev.TestID, got.TestID)
			assert.Equal(t, tt.ev.Tags, got.Tags)
			assert.Equal(t, tt.ev.MIMEType, got.MIMEType)
			assert.Equal(t, tt.ev.FileName, got.FileName)
			assert.Equal(t, tt.ev.FileBytes, got.FileBytes)
			assert.Equal(t, tt.ev.RouteCode, got.RouteCode)
			assert.Equal(t, tt.ev.Runnable, got.Runnable)
			assert.Equal(t, tt.ev.EOF, got.EOF)
			if !tt.ev.Timestamp.IsZero() {
				assert.True(t, got.Timestamp.Equal(tt.ev.Timestamp))
			}
		})
	}
}

func TestReaderMultiplePackets(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(Event{Status: StatusInProgress, TestID: "test_a"}))
	require.NoError(t, w.Write(Event{Status: StatusSuccess, TestID: "test_a"}))
	require.NoError(t, w.Write(Event{Status: StatusInProgress, TestID: "test_b"}))
	require.NoError(t, w.Write(Event{Status: StatusFail, TestID: "test_b"}))

	r := NewReader(&buf)
	var seen []string
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen = append(seen, ev.TestID+":"+ev.Status.String())
	}
	assert.Equal(t, []string{
		"test_a:inprogress",
		"test_a:success",
		"test_b:inprogress",
		"test_b:fail",
	}, seen)
}

func TestReaderBadSignature(t *testing.T) {
	r := NewReader(strings.NewReader("\x00garbage"))
	_, err := r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestReaderChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(Event{Status: StatusSuccess, TestID: "test_x"}))
	packet := buf.Bytes()
	packet[len(packet)-1] ^= 0xFF

	_, err := NewReader(bytes.NewReader(packet)).Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestReaderTruncatedPacket(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(Event{Status: StatusSuccess, TestID: "test_x"}))
	packet := buf.Bytes()

	_, err := NewReader(bytes.NewReader(packet[:len(packet)-3])).Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderEmptyStream(t *testing.T) {
	_, err := NewReader(strings.NewReader("")).Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestNumberEncodingWidths(t *testing.T) {
	tests := []struct {
		value uint32
		width int
	}{
		{0, 1},
		{63, 1},
		{64, 2},
		{16383, 2},
		{16384, 3},
		{4194303, 3},
		{4194304, 4},
	}
	for _, tt := range tests {
		enc, err := encodeNumber(tt.value)
		require.NoError(t, err)
		assert.Len(t, enc, tt.width, "value %d", tt.value)

		got, rest, err := parseNumber(enc)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, tt.value, got)
	}

	_, err := encodeNumber(1 << 30)
	require.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusUndefined.Terminal())
	assert.False(t, StatusEnumeration.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusUxSuccess.Terminal())
	assert.True(t, StatusSkip.Terminal())
	assert.True(t, StatusFail.Terminal())
	assert.True(t, StatusXFail.Terminal())
}
