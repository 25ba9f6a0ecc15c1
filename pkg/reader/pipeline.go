package reader

import "cubdb/pkg/btree"

// pipeline wraps a Cursor with a chain of Stage transforms, pulled lazily
// one entry at a time so a select over a large range never materializes
// more than the current element.
type pipeline struct {
	cursor  *btree.Cursor
	stages  []Stage
	taken   []int // running count per take stage, indexed by stage position
	dropped []int // running count per drop stage
	ended   []bool // whether a take_while/drop_while stage has closed
}

func newPipeline(cursor *btree.Cursor, stages []Stage) *pipeline {
	return &pipeline{
		cursor:  cursor,
		stages:  stages,
		taken:   make([]int, len(stages)),
		dropped: make([]int, len(stages)),
		ended:   make([]bool, len(stages)),
	}
}

// next pulls the next entry surviving every stage, or ok=false once the
// underlying cursor (or a take/take_while stage) is exhausted.
func (p *pipeline) next() (Entry, bool, error) {
	for {
		if !p.cursor.Valid() {
			return Entry{}, false, p.cursor.Err()
		}
		e := Entry{Key: p.cursor.Key(), Value: p.cursor.Value()}
		p.cursor.Next()

		ok, err := p.apply(&e)
		if err != nil {
			return Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
		if p.closed() {
			return Entry{}, false, nil
		}
	}
}

func (p *pipeline) closed() bool {
	for i, s := range p.stages {
		if s.kind == stageTakeWhile && p.ended[i] {
			return true
		}
		if s.kind == stageTake && p.taken[i] >= s.Take {
			return true
		}
	}
	return false
}

// apply runs e through every stage in order, returning ok=false if any
// stage drops it (filter/take_while/drop_while/take/drop exhaustion).
func (p *pipeline) apply(e *Entry) (bool, error) {
	for i, s := range p.stages {
		switch s.kind {
		case stageFilter:
			keep, err := s.Filter(e.Key, e.Value)
			if err != nil {
				return false, err
			}
			if !keep {
				return false, nil
			}

		case stageMap:
			k, v, err := s.Map(e.Key, e.Value)
			if err != nil {
				return false, err
			}
			e.Key, e.Value = k, v

		case stageTake:
			if p.taken[i] >= s.Take {
				return false, nil
			}
			p.taken[i]++

		case stageDrop:
			if p.dropped[i] < s.Drop {
				p.dropped[i]++
				return false, nil
			}

		case stageTakeWhile:
			if p.ended[i] {
				return false, nil
			}
			keep, err := s.TakeWhile(e.Key, e.Value)
			if err != nil {
				return false, err
			}
			if !keep {
				p.ended[i] = true
				return false, nil
			}

		case stageDropWhile:
			if !p.ended[i] {
				keep, err := s.DropWhile(e.Key, e.Value)
				if err != nil {
					return false, err
				}
				if keep {
					return false, nil
				}
				p.ended[i] = true
			}
		}
	}
	return true, nil
}
