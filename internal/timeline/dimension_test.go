package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestNormalizeDimension(t *testing.T) {
	assert.Equal(t, 0, NormalizeDimension(-5))
	assert.Equal(t, 0, NormalizeDimension(0))
	assert.Equal(t, 42, NormalizeDimension(42))
}

func TestIsPrivateDimension(t *testing.T) {
	assert.False(t, IsPrivateDimension(0))
	assert.False(t, IsPrivateDimension(999))
	assert.True(t, IsPrivateDimension(1000))
	assert.True(t, IsPrivateDimension(5000))
}

func TestDeliverTargetDimensions(t *testing.T) {
	t.Run("nil note goes to shared", func(t *testing.T) {
		assert.Equal(t, []int{0}, DeliverTargetDimensions(nil))
	})

	t.Run("shared note", func(t *testing.T) {
		assert.Equal(t, []int{0}, DeliverTargetDimensions(&Note{Dimension: 0}))
	})

	t.Run("public sub-community reaches shared too", func(t *testing.T) {
		assert.Equal(t, []int{0, 5}, DeliverTargetDimensions(&Note{Dimension: 5}))
	})

	t.Run("private stays private", func(t *testing.T) {
		assert.Equal(t, []int{1000}, DeliverTargetDimensions(&Note{Dimension: 1000}))
	})

	t.Run("reply pulls parent dimension in", func(t *testing.T) {
		note := &Note{Dimension: 1, Reply: &Note{Dimension: 2}}
		assert.Equal(t, []int{0, 1, 2}, DeliverTargetDimensions(note))
	})

	t.Run("private reply to public parent", func(t *testing.T) {
		note := &Note{Dimension: 1000, Reply: &Note{Dimension: 1}}
		assert.Equal(t, []int{1, 1000}, DeliverTargetDimensions(note))
	})

	t.Run("parent in shared dimension adds nothing", func(t *testing.T) {
		note := &Note{Dimension: 3, Renote: &Note{Dimension: 0}}
		assert.Equal(t, []int{0, 3}, DeliverTargetDimensions(note))
	})

	t.Run("negative dimension normalizes", func(t *testing.T) {
		assert.Equal(t, []int{0}, DeliverTargetDimensions(&Note{Dimension: -7}))
	})
}

func TestIsCrossDimensionInteraction(t *testing.T) {
	note := &Note{
		Mentions:       []string{"alice"},
		VisibleUserIDs: []string{"bob"},
		Reply:          &Note{UserID: "carol"},
		Renote:         &Note{UserID: "dave"},
	}

	assert.True(t, IsCrossDimensionInteraction(note, "alice"))
	assert.True(t, IsCrossDimensionInteraction(note, "bob"))
	assert.True(t, IsCrossDimensionInteraction(note, "carol"))
	assert.True(t, IsCrossDimensionInteraction(note, "dave"))
	assert.False(t, IsCrossDimensionInteraction(note, "eve"))
	assert.False(t, IsCrossDimensionInteraction(note, ""))
	assert.False(t, IsCrossDimensionInteraction(nil, "alice"))
}

func TestShouldDeliverByDimension(t *testing.T) {
	t.Run("no viewer dimension sees everything", func(t *testing.T) {
		assert.True(t, ShouldDeliverByDimension(&Note{Dimension: 1000}, nil, "eve"))
	})

	t.Run("shared viewer sees shared and public", func(t *testing.T) {
		assert.True(t, ShouldDeliverByDimension(&Note{Dimension: 0}, intPtr(0), "eve"))
		assert.True(t, ShouldDeliverByDimension(&Note{Dimension: 7}, intPtr(0), "eve"))
		assert.False(t, ShouldDeliverByDimension(&Note{Dimension: 1000}, intPtr(0), "eve"))
	})

	t.Run("sub-community viewer needs exact match", func(t *testing.T) {
		assert.True(t, ShouldDeliverByDimension(&Note{Dimension: 5}, intPtr(5), "eve"))
		assert.False(t, ShouldDeliverByDimension(&Note{Dimension: 3}, intPtr(5), "eve"))
		assert.False(t, ShouldDeliverByDimension(&Note{Dimension: 0}, intPtr(5), "eve"))
	})

	t.Run("private viewer needs exact match", func(t *testing.T) {
		assert.True(t, ShouldDeliverByDimension(&Note{Dimension: 1000}, intPtr(1000), "eve"))
		assert.False(t, ShouldDeliverByDimension(&Note{Dimension: 1001}, intPtr(1000), "eve"))
	})

	t.Run("personal involvement crosses boundaries", func(t *testing.T) {
		note := &Note{Dimension: 1000, Mentions: []string{"eve"}}
		assert.True(t, ShouldDeliverByDimension(note, intPtr(0), "eve"))
	})

	t.Run("renote dimension is a fallback", func(t *testing.T) {
		note := &Note{Dimension: 7, Renote: &Note{Dimension: 5}}
		assert.True(t, ShouldDeliverByDimension(note, intPtr(5), "eve"))
		assert.False(t, ShouldDeliverByDimension(note, intPtr(3), "eve"))
	})

	t.Run("negative viewer dimension acts as shared", func(t *testing.T) {
		assert.True(t, ShouldDeliverByDimension(&Note{Dimension: 7}, intPtr(-1), "eve"))
	})
}
