package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsIndependent(t *testing.T) {
	original := Metadata{KeyRequestID: "req-1", KeyTimestamp: "2024-01-01T00:00:00Z"}

	clone := original.Clone()
	clone[KeyRequestID] = "changed"

	assert.Equal(t, "req-1", original[KeyRequestID], "writes to the clone must not reach the original")
	assert.Len(t, clone, len(original))
}

func TestCloneOfNilIsWritable(t *testing.T) {
	var m Metadata

	clone := m.Clone()
	require.NotNil(t, clone)
	require.Empty(t, clone)

	clone["k"] = "v"
	assert.Equal(t, "v", clone["k"])
}

func TestWithLeavesReceiverAlone(t *testing.T) {
	base := Metadata{KeyMessageID: "m-1"}

	enriched := base.With(KeyProcessingTime, "2024-01-01T00:00:00Z")

	assert.NotContains(t, base, KeyProcessingTime)
	assert.Equal(t, "2024-01-01T00:00:00Z", enriched[KeyProcessingTime])
	assert.Equal(t, "m-1", enriched[KeyMessageID])
}

func TestWithAllMergePrecedence(t *testing.T) {
	base := Metadata{KeyMessageID: "m-1", "shared": "old"}

	merged := base.WithAll(Metadata{"shared": "new", "extra": "tag"})

	assert.Equal(t, "new", merged["shared"], "incoming entries win over existing keys")
	assert.Equal(t, "tag", merged["extra"])
	assert.Equal(t, "m-1", merged[KeyMessageID])
	assert.Equal(t, "old", base["shared"], "the receiver keeps its value")
}

func TestNewDropsTrailingKey(t *testing.T) {
	md := New(KeyRequestID, "req-2", KeyTimestamp, "ts", "dangling")

	require.Len(t, md, 2)
	assert.Equal(t, "req-2", md[KeyRequestID])
	assert.Equal(t, "ts", md[KeyTimestamp])
	assert.NotContains(t, md, "dangling")
}

func TestWatermillConversionCopies(t *testing.T) {
	md := Metadata{KeyRequestID: "req-3"}

	wm := ToWatermill(md)
	require.Equal(t, "req-3", wm[KeyRequestID])

	wm[KeyRequestID] = "mutation"
	assert.Equal(t, "req-3", md[KeyRequestID], "Watermill-side writes must not reach the source map")

	back := FromWatermill(message.Metadata{KeyMessageID: "m-9"})
	assert.Equal(t, "m-9", back[KeyMessageID])
}

func TestWatermillConversionOfNil(t *testing.T) {
	require.NotNil(t, ToWatermill(nil))
	require.Empty(t, ToWatermill(nil))

	md := FromWatermill(nil)
	require.NotNil(t, md)
	require.Empty(t, md)
}
