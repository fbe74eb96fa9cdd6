package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Product ", "product", "", "  ", "Beta"})
	assert.Equal(t, []string{"beta", "product"}, got)
	assert.Empty(t, NormalizeTags(nil))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("archived")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, s)

	s, err = ParseStatus("")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s)

	_, err = ParseStatus("deleted")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestPrompt_Copy(t *testing.T) {
	desc := "d"
	now := time.Now()
	p := &Prompt{ID: "x", Name: "n", Description: &desc, Tags: []string{"a"}, DeletedAt: &now}
	q := p.Copy()
	require.NotSame(t, p, q)
	assert.Equal(t, p.ID, q.ID)
	assert.NotSame(t, p.Description, q.Description)
	assert.NotSame(t, p.DeletedAt, q.DeletedAt)
	q.Tags[0] = "b"
	assert.Equal(t, "a", p.Tags[0])
	assert.True(t, q.Deleted())
}

func TestErrorTaxonomy(t *testing.T) {
	nf := NotFound("base version")
	assert.Equal(t, "base version not found", nf.Error())
	assert.ErrorIs(t, nf, ErrNotFound)
	assert.Equal(t, CodeNotFound, Code(fmt.Errorf("wrapped: %w", nf)))

	br := BadRequest("content", "content is required")
	assert.ErrorIs(t, br, ErrBadRequest)
	assert.Equal(t, "content", br.Field)
	assert.Equal(t, CodeBadRequest, Code(br))

	assert.Equal(t, CodeInternal, Code(errors.New("boom")))
	assert.Equal(t, "", Code(nil))

	var ve error = &ValidationError{Field: "x", Message: "expected number"}
	assert.ErrorIs(t, ve, ErrBadRequest)
}

func TestPublication_Newer(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Publication{PublishedAt: ts, Seq: 1}
	b := &Publication{PublishedAt: ts, Seq: 2}
	c := &Publication{PublishedAt: ts.Add(-time.Second), Seq: 3}
	assert.True(t, a.Newer(nil))
	assert.True(t, b.Newer(a))
	assert.False(t, a.Newer(b))
	assert.False(t, c.Newer(a))
}

func TestVersion_CopyIsDeep(t *testing.T) {
	temp := 0.3
	def := "x"
	v := &Version{
		ID:          "v1",
		ModelParams: ModelParams{Temperature: &temp},
		Variables:   []Variable{{Name: "a", Type: VariableTypeString, DefaultValue: &def}},
	}
	q := v.Copy()
	*q.Temperature = 0.9
	*q.Variables[0].DefaultValue = "y"
	assert.Equal(t, 0.3, *v.Temperature)
	assert.Equal(t, "x", *v.Variables[0].DefaultValue)

	empty := (&Version{}).Copy()
	assert.NotNil(t, empty.Variables)
}
