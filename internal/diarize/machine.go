package diarize

// Config holds the tuning constants of the state machine
type Config struct {
	VolumeWeight      float64 `yaml:"volume_weight" toml:"volume_weight" json:"volume_weight"`
	EnergyWeight      float64 `yaml:"energy_weight" toml:"energy_weight" json:"energy_weight"`
	ConsistencyBias   float64 `yaml:"consistency_bias" toml:"consistency_bias" json:"consistency_bias"`
	ActivityThreshold float64 `yaml:"activity_threshold" toml:"activity_threshold" json:"activity_threshold"`
}

// DefaultConfig returns the reference weights, bias and threshold
func DefaultConfig() Config {
	return Config{
		VolumeWeight:      0.7,
		EnergyWeight:      0.3,
		ConsistencyBias:   0.1,
		ActivityThreshold: 0.1,
	}
}

// State is the accumulator carried through the fold, strictly in segment order
type State struct {
	LastSpeaker      int              `json:"last_speaker"`
	FirstSpeaker     int              `json:"first_speaker"`
	FirstActive      int              `json:"first_active"`
	TotalTime        [NumSpeakers]int `json:"total_time"`
	ConsecutiveCount int              `json:"consecutive_count"`
	segments         int
}

// NewState returns the state before segment 0
func NewState() State {
	return State{
		LastSpeaker:  NoSpeaker,
		FirstSpeaker: NoSpeaker,
		FirstActive:  NoSpeaker,
	}
}

// Blend combines volume and energy into one activity score
func (c Config) Blend(s ChannelScore) float64 {
	return c.VolumeWeight*s.Volume + c.EnergyWeight*s.Energy
}

// Step labels one segment and returns the updated state.
// Channel 0 must strictly beat channel 1 after bias; ties go to 1.
func (c Config) Step(st State, scores [NumSpeakers]ChannelScore) (State, int) {
	raw := [NumSpeakers]float64{c.Blend(scores[0]), c.Blend(scores[1])}
	adjusted := raw
	if st.LastSpeaker != NoSpeaker {
		adjusted[st.LastSpeaker] += c.ConsistencyBias
	}

	label := 1
	if adjusted[0] > adjusted[1] {
		label = 0
	}

	if st.FirstSpeaker == NoSpeaker && (raw[0] > c.ActivityThreshold || raw[1] > c.ActivityThreshold) {
		st.FirstSpeaker = label
		st.FirstActive = st.segments
	}
	st.TotalTime[label]++
	if label == st.LastSpeaker {
		st.ConsecutiveCount++
	} else {
		st.ConsecutiveCount = 1
	}
	st.LastSpeaker = label
	st.segments++

	return st, label
}
