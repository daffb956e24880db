package models

// Server -> client event names.
const (
	EventSessionID     = "sessionID"
	EventStoryList     = "storyListUpdate"
	EventSelectedStory = "selectedStoryUpdate"
	EventUpdate        = "update"
	EventHistory       = "historyUpdate"
	EventDeck          = "deckUpdate"
	EventError         = "error"
)

// Client -> server event names.
const (
	EventVote        = "vote"
	EventSelectStory = "selectStory"
	EventAddStory    = "addStory"
	EventReveal      = "reveal"
	EventResetMine   = "resetme"
	EventResetAll    = "resetall"
)
