package dagrun

import "github.com/dagrun/dagrun/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the dagrun package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// TaskTraits defines task attributes (priority, blocking behavior, etc.)
type TaskTraits = core.TaskTraits

// TaskPriority defines the priority levels for tasks
type TaskPriority = core.TaskPriority

// TaskRunner is the interface for posting tasks
type TaskRunner = core.TaskRunner

// Priority constants
const (
	TaskPriorityBestEffort   TaskPriority = core.TaskPriorityBestEffort
	TaskPriorityUserVisible  TaskPriority = core.TaskPriorityUserVisible
	TaskPriorityUserBlocking TaskPriority = core.TaskPriorityUserBlocking
)

// Convenience functions for creating TaskTraits
var (
	DefaultTaskTraits  = core.DefaultTaskTraits
	TraitsUserBlocking = core.TraitsUserBlocking
	TraitsBestEffort   = core.TraitsBestEffort
	TraitsUserVisible  = core.TraitsUserVisible
)

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

// GetCurrentTaskRunner retrieves the current TaskRunner from context
var GetCurrentTaskRunner = core.GetCurrentTaskRunner
