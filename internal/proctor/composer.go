package proctor

import "github.com/stemsi/exstem-proctor/internal/model"

// Composer gates manual submission on every section being complete.
// Completion is never undone.
type Composer struct {
	done model.Sections
}

func NewComposer(initial model.Sections) *Composer {
	return &Composer{done: initial}
}

// Complete marks s as done and reports whether that changed anything.
func (c *Composer) Complete(s model.Section) bool {
	if c.done.Has(s) {
		return false
	}
	c.done.Mark(s)
	return c.done.Has(s)
}

// Ready reports whether manual submission is allowed.
func (c *Composer) Ready() bool {
	return c.done.Coding && c.done.MCQ && c.done.OpenEnded
}

func (c *Composer) Sections() model.Sections { return c.done }
