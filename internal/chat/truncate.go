package chat

import "strings"

// DefaultFMCharBudget is the context budget for the tiny on-device models
// behind the FM bridge.
const DefaultFMCharBudget = 1100

// TruncateForFM trims a conversation to a character budget for tiny models.
// The system message always survives (truncated with an ellipsis when it
// alone exceeds the budget). The remaining budget is filled with trailing
// user/assistant exchanges, newest first, each exchange kept or dropped
// whole. The result is byte-deterministic for identical inputs.
func TruncateForFM(msgs []Message, budget int) []Message {
	if budget <= 0 {
		budget = DefaultFMCharBudget
	}
	if len(msgs) == 0 {
		return nil
	}

	var system *Message
	var rest []Message
	for i := range msgs {
		if msgs[i].Role == "system" && system == nil {
			system = &msgs[i]
			continue
		}
		rest = append(rest, msgs[i])
	}

	remaining := budget
	var out []Message
	if system != nil {
		content := system.Content
		if len(content) > budget {
			cut := budget - 3
			if cut < 0 {
				cut = 0
			}
			content = content[:cut] + "..."
			return []Message{{Role: "system", Content: content}}
		}
		out = append(out, Message{Role: "system", Content: content})
		remaining -= len(content)
	}

	// Group the tail into exchanges: a message plus everything after it up to
	// the next user message. Walking groups from the end keeps the newest
	// context and never splits a question from its answer.
	groups := groupExchanges(rest)
	keepFrom := len(groups)
	for i := len(groups) - 1; i >= 0; i-- {
		size := 0
		for _, m := range groups[i] {
			size += len(m.Content)
		}
		if size > remaining {
			break
		}
		remaining -= size
		keepFrom = i
	}
	for _, g := range groups[keepFrom:] {
		out = append(out, g...)
	}
	return out
}

// groupExchanges splits messages into user-led exchanges. A group starts at
// each user message; leading assistant messages form their own group.
func groupExchanges(msgs []Message) [][]Message {
	var groups [][]Message
	var current []Message
	for _, m := range msgs {
		if strings.EqualFold(m.Role, "user") && len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, m)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
