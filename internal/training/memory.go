package training

import "context"

// TrainingMemory summarizes the completed sessions of one user/avatar pair.
type TrainingMemory struct {
	TotalSessions  int      `json:"total_sessions"`
	AverageQuality float64  `json:"average_quality"`
	ScenarioNames  []string `json:"scenario_names"`
	LearningPoints []string `json:"learning_points"`
}

// MemoryCache stores computed aggregates. A miss returns ok=false.
type MemoryCache interface {
	GetMemory(ctx context.Context, userID, avatarID string) (TrainingMemory, bool, error)
	SetMemory(ctx context.Context, userID, avatarID string, m TrainingMemory) error
	InvalidateMemory(ctx context.Context, userID, avatarID string) error
}

// BuildTrainingMemory aggregates completed sessions, newest first.
func BuildTrainingMemory(sessions []Session) TrainingMemory {
	var m TrainingMemory
	var qualitySum float64
	var scored int
	seen := make(map[string]bool)

	for _, s := range sessions {
		if s.Status != StatusCompleted {
			continue
		}
		m.TotalSessions++
		if s.Metrics.ResponseCount > 0 {
			qualitySum += s.Metrics.AverageQuality
			scored++
		}
		if s.ScenarioName != "" && !seen[s.ScenarioName] {
			seen[s.ScenarioName] = true
			m.ScenarioNames = append(m.ScenarioNames, s.ScenarioName)
		}
		if s.Summary != nil {
			for _, p := range s.Summary.LearningPoints {
				if len(m.LearningPoints) >= learningPointLimit {
					break
				}
				m.LearningPoints = append(m.LearningPoints, p)
			}
		}
	}
	if scored > 0 {
		m.AverageQuality = qualitySum / float64(scored)
	}
	return m
}

// TrainingMemory returns the aggregate for a user/avatar pair, using the
// cache when one is configured. Cache failures are logged and ignored.
func (s *Service) TrainingMemory(ctx context.Context, userID, avatarID string) (TrainingMemory, error) {
	if s.cache != nil {
		m, ok, err := s.cache.GetMemory(ctx, userID, avatarID)
		if err != nil {
			s.logger.WarnContext(ctx, "memory cache read failed", "user_id", userID, "avatar_id", avatarID, "error", err)
		} else if ok {
			return m, nil
		}
	}

	sessions, err := s.store.ListSessions(ctx, SessionQuery{UserID: userID, AvatarID: avatarID, Status: StatusCompleted})
	if err != nil {
		return TrainingMemory{}, err
	}
	m := BuildTrainingMemory(sessions)

	if s.cache != nil {
		if err := s.cache.SetMemory(ctx, userID, avatarID, m); err != nil {
			s.logger.WarnContext(ctx, "memory cache write failed", "user_id", userID, "avatar_id", avatarID, "error", err)
		}
	}
	return m, nil
}
