package pipeline

import "path/filepath"

// TaskDirs resolves the fixed scratch layout under a task's working
// directory (spec §3 TaskDirectory).
type TaskDirs struct {
	Root string
}

func NewTaskDirs(root string) TaskDirs {
	return TaskDirs{Root: root}
}

func (d TaskDirs) Cloned() string         { return filepath.Join(d.Root, "1_cloned") }
func (d TaskDirs) Trimmed() string        { return filepath.Join(d.Root, "2_trimmed") }
func (d TaskDirs) SequenceJSON() string   { return filepath.Join(d.Root, "3_sequence.json") }
func (d TaskDirs) CandidatesJSON() string { return filepath.Join(d.Root, "candidates.json") }
func (d TaskDirs) FinalOutput() string    { return filepath.Join(d.Root, "4_final_output.wav") }
