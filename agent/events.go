package agent

import (
	"tabula/model"
	"tabula/sandbox"
)

// Event is one item in the stream Invoke yields. Concrete events are
// EventDelta, EventMessage, EventStage, and EventExecution.
type Event interface {
	event()
}

// EventDelta is a streamed chunk of assistant text, emitted as the model
// produces it. The full text arrives again in the completed message.
type EventDelta struct {
	Content string
}

// EventMessage is a completed message appended to the session history:
// an assistant reply, a tool result, or a dataset description.
type EventMessage struct {
	Message model.Message
}

// EventStage marks a file-reading stage transition for one attachment.
type EventStage struct {
	Filename string
	Stage    Stage
}

// EventExecution reports a finished code execution with its collected
// outputs. Emitted before the tool message that wraps the result.
type EventExecution struct {
	Result *sandbox.ExecutionResult
}

func (EventDelta) event()     {}
func (EventMessage) event()   {}
func (EventStage) event()     {}
func (EventExecution) event() {}

// Stage names a step of the file-reading pipeline.
type Stage string

const (
	// StageReading covers loading the file into the kernel dataframe.
	StageReading Stage = "reading"
	// StageNormalizing covers the optional LLM-driven cleanup of an
	// irregular spreadsheet.
	StageNormalizing Stage = "normalizing"
	// StageStructure covers the column structure summary.
	StageStructure Stage = "structure"
	// StagePreview covers the first-rows preview.
	StagePreview Stage = "preview"
)
