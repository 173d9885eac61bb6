package proctor

import (
	"testing"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestComposerGatesSubmission(t *testing.T) {
	c := NewComposer(model.Sections{})
	assert.False(t, c.Ready())

	assert.True(t, c.Complete(model.SectionCoding))
	assert.False(t, c.Complete(model.SectionCoding))
	assert.True(t, c.Complete(model.SectionMCQ))
	assert.False(t, c.Ready())

	assert.True(t, c.Complete(model.SectionOpenEnded))
	assert.True(t, c.Ready())
	assert.Equal(t, 3, c.Sections().Count())
}

func TestComposerNeverUncompletes(t *testing.T) {
	c := NewComposer(model.Sections{Coding: true})
	assert.False(t, c.Complete(model.Section("essay")))
	assert.True(t, c.Complete(model.SectionMCQ))
	assert.False(t, c.Complete(model.SectionCoding))

	assert.Equal(t, model.Sections{Coding: true, MCQ: true}, c.Sections())
}
