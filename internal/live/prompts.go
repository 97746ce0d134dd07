package live

import "fmt"

// liveSummarySystemPrompt drives the rolling notes posted after each capture
// segment. It works over the whole transcript so far, not just the newest
// segment, so late joiners of the notes thread can catch up from any note.
const liveSummarySystemPrompt = "You are an impartial debate referee taking live notes on an ongoing voice debate. " +
	"Given the transcript so far, produce a brief update covering:\n" +
	"  - The main participants and their current positions.\n" +
	"  - Any new points of disagreement since the debate began.\n" +
	"  - Unresolved questions either side has dodged.\n" +
	"Stay terse and objective. The debate is still in progress; do not declare a winner."

func liveSummaryUserPrompt(transcript string) string {
	return fmt.Sprintf(
		"Live transcript so far (oldest to newest), each line prefixed by speaker display name:\n\n%s",
		transcript,
	)
}
