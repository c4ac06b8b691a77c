package jobs

import (
	"errors"
	"sort"
	"sync"
)

// ErrTableFull is returned by Register when every slot is occupied.
var ErrTableFull = errors.New("job table full")

type State int

const (
	Running State = iota
	Stopped
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	}
	return "Unknown"
}

// Job is a background pipeline, or a foreground pipeline that stopped.
type Job struct {
	ID      int
	Pgid    int
	State   State
	Command string
	Pids    []int

	reaped map[int]bool
}

// Live returns the member pids that have not been reaped yet.
func (j Job) Live() []int {
	var live []int
	for _, pid := range j.Pids {
		if !j.reaped[pid] {
			live = append(live, pid)
		}
	}
	return live
}

func (j *Job) has(pid int) bool {
	for _, p := range j.Pids {
		if p == pid {
			return true
		}
	}
	return false
}

func (j *Job) copy() Job {
	c := *j
	c.Pids = append([]int(nil), j.Pids...)
	c.reaped = make(map[int]bool, len(j.reaped))
	for pid, ok := range j.reaped {
		c.reaped[pid] = ok
	}
	return c
}

// Table is a bounded set of jobs. Slots are reused once freed, ids never are.
type Table struct {
	slots     []*Job
	idLastJob int
	jobsMutex sync.Mutex

	wait waitFunc
	kill killFunc
}

func NewTable(capacity int) *Table {
	if capacity < 1 {
		capacity = 1
	}
	return &Table{slots: make([]*Job, capacity)}
}

func (t *Table) freeSlot() int {
	for i, j := range t.slots {
		if j == nil {
			return i
		}
	}
	return -1
}

// Register records a running pipeline and returns its job id.
func (t *Table) Register(pgid int, pids []int, command string) (int, error) {
	t.jobsMutex.Lock()
	defer t.jobsMutex.Unlock()

	slot := t.freeSlot()
	if slot < 0 {
		return 0, ErrTableFull
	}
	if len(pids) == 0 {
		pids = []int{pgid}
	}

	t.idLastJob++
	t.slots[slot] = &Job{
		ID:      t.idLastJob,
		Pgid:    pgid,
		State:   Running,
		Command: command,
		Pids:    append([]int(nil), pids...),
		reaped:  make(map[int]bool),
	}

	return t.idLastJob, nil
}

// Update applies a wait report for pid. Done marks only that pid as reaped;
// the job is Done once all of its members are. The returned job is a copy.
func (t *Table) Update(pid int, state State) (Job, bool) {
	t.jobsMutex.Lock()
	defer t.jobsMutex.Unlock()

	for _, j := range t.slots {
		if j == nil || !j.has(pid) {
			continue
		}
		if j.State == Done {
			return j.copy(), true
		}

		switch state {
		case Done:
			j.reaped[pid] = true
			if len(j.Live()) == 0 {
				j.State = Done
			}
		case Stopped, Running:
			if !j.reaped[pid] {
				j.State = state
			}
		}
		return j.copy(), true
	}

	return Job{}, false
}

func (t *Table) Get(id int) (Job, bool) {
	t.jobsMutex.Lock()
	defer t.jobsMutex.Unlock()

	for _, j := range t.slots {
		if j != nil && j.ID == id {
			return j.copy(), true
		}
	}
	return Job{}, false
}

// List returns the tracked jobs ordered by id.
func (t *Table) List() []Job {
	t.jobsMutex.Lock()
	defer t.jobsMutex.Unlock()

	var res []Job
	for _, j := range t.slots {
		if j != nil {
			res = append(res, j.copy())
		}
	}
	sort.Slice(res, func(a, b int) bool { return res[a].ID < res[b].ID })

	return res
}

func (t *Table) Remove(id int) bool {
	t.jobsMutex.Lock()
	defer t.jobsMutex.Unlock()

	for i, j := range t.slots {
		if j != nil && j.ID == id {
			t.slots[i] = nil
			return true
		}
	}
	return false
}

func (t *Table) Len() int {
	t.jobsMutex.Lock()
	defer t.jobsMutex.Unlock()

	n := 0
	for _, j := range t.slots {
		if j != nil {
			n++
		}
	}
	return n
}

func (t *Table) Full() bool {
	t.jobsMutex.Lock()
	defer t.jobsMutex.Unlock()

	return t.freeSlot() < 0
}
