package voice

import (
	"fmt"
	"math/rand"
	"time"

	"ops-coordination-service/internal/models"
)

// Bounds for the synthetic roster, local participant included.
const (
	simMinParticipants = 2
	simMaxParticipants = 8
	simMaxJoinOffset   = 30 * time.Second
	simMuteProbability = 0.20
)

// callsignPool is the fixed pool synthetic participants draw from. The
// roster is illustrative only and never claims to reflect real audio.
var callsignPool = []string{
	"Bravo-2", "Charlie-6", "Delta-4", "Echo-9", "Foxtrot-1",
	"Golf-7", "Hotel-3", "India-8", "Juliet-5", "Kilo-2",
	"Lima-6", "Mike-4", "November-1", "Oscar-9", "Papa-7",
}

// simulator generates the SIMULATED-mode roster. Deterministic under an
// injected rand source.
type simulator struct {
	rng      *rand.Rand
	variance float64 // speaking probability per participant
	now      func() time.Time
}

func newSimulator(rng *rand.Rand, variance float64, now func() time.Time) *simulator {
	if variance <= 0 || variance > 1 {
		variance = 0.3
	}
	return &simulator{rng: rng, variance: variance, now: now}
}

// roster generates 2-8 participants: the local operator plus synthetic
// entries with randomized join offsets, mute and speaking state.
func (s *simulator) roster(localIdentity, localName string) []models.Participant {
	total := simMinParticipants + s.rng.Intn(simMaxParticipants-simMinParticipants+1)
	now := s.now()

	participants := make([]models.Participant, 0, total)
	participants = append(participants, models.Participant{
		Identity:    localIdentity,
		DisplayName: localName,
		IsLocal:     true,
		JoinedAt:    now,
	})

	order := s.rng.Perm(len(callsignPool))
	for i := 0; len(participants) < total; i++ {
		callsign := callsignPool[order[i%len(order)]]
		participants = append(participants, models.Participant{
			Identity:    fmt.Sprintf("sim-%s-%d", callsign, i),
			DisplayName: callsign,
			IsSpeaking:  s.rng.Float64() < s.variance,
			IsMuted:     s.rng.Float64() < simMuteProbability,
			JoinedAt:    now.Add(-time.Duration(s.rng.Int63n(int64(simMaxJoinOffset)))),
		})
	}

	return participants
}

// churn decides whether a churn tick should regenerate the roster. The
// variance doubles as the churn probability so busier nets look busier.
func (s *simulator) churn() bool {
	return s.rng.Float64() < s.variance
}
