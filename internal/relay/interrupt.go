package relay

import (
	"context"
	"log"

	"github.com/avolpini/callbridge/internal/twilio"
)

// handleSpeechStarted runs the barge-in protocol: the caller began talking
// while AI audio may still be playing. With no outstanding playback the event
// is a no-op; turn-taking itself is the AI transport's job.
func (s *Session) handleSpeechStarted(ctx context.Context) {
	if len(s.markQueue) == 0 || s.responseStart < 0 {
		return
	}

	elapsed := s.latestMediaTimestamp - s.responseStart

	// Trim the model's history to what the caller actually heard.
	if s.lastAssistantItem != "" && s.ai != nil {
		if err := s.ai.TruncateItem(ctx, s.lastAssistantItem, elapsed); err != nil {
			log.Printf("relay %s: truncate item %s: %v", s.id, s.lastAssistantItem, err)
		} else {
			s.metrics.WSMessages.WithLabelValues("realtime", "outbound", "item_truncate").Inc()
		}
	}

	// Flush audio already buffered on the caller's device so stale speech
	// stops immediately.
	if s.streamSID != "" {
		if err := s.tel.WriteJSON(twilio.NewOutboundClear(s.streamSID)); err != nil {
			log.Printf("relay %s: clear stream %s: %v", s.id, s.streamSID, err)
		} else {
			s.metrics.WSMessages.WithLabelValues("telephony", "outbound", "clear").Inc()
		}
	}

	s.markQueue = nil
	s.lastAssistantItem = ""
	s.responseStart = -1

	s.metrics.Interruptions.Inc()
	s.metrics.MarkIndicator("barge_in")
	log.Printf("relay %s: interrupted assistant at %dms", s.id, elapsed)
}
