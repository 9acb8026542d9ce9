package main

import "github.com/you-humble/musicgen/internal/domain"

func stageFor(p domain.Progress) string {
	v, ok := domain.ParseProgress(p.Progress)
	if !ok {
		if p.Status == domain.StatusPending {
			return "Waiting in the queue"
		}
		return "Generating"
	}

	switch {
	case v < 25:
		return "Analysing the description"
	case v < 50:
		return "Composing the melody"
	case v < 75:
		return "Arranging"
	case v < 100:
		return "Mixing"
	}
	return "Finalizing"
}

// previewTracks returns the tracks that already finished rendering while the
// task as a whole is still running.
func previewTracks(tracks []domain.Track) []domain.Track {
	var out []domain.Track
	for _, t := range tracks {
		if t.Playable() {
			out = append(out, t)
		}
	}
	return out
}
