// Package config holds the closed set of recognized MAC options, loaded
// from JSON the same way a client config package loads persistent
// preferences: Default() always succeeds, Load() falls back to defaults
// rather than ever erroring on a missing file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ContentionMethod selects how SHLinkManager estimates the candidate slot
// count k.
type ContentionMethod string

const (
	BinomialEstimate        ContentionMethod = "binomial_estimate"
	PoissonBinomialEstimate ContentionMethod = "poisson_binomial_estimate"
	AllActiveAgainAssumed   ContentionMethod = "all_active_again_assumption"
	NaiveRandomAccess       ContentionMethod = "naive_random_access"
)

// Config is the closed set of MAC options the node recognizes.
type Config struct {
	TargetCollisionProb             float64          `json:"target_collision_prob"`
	ContentionMethod                ContentionMethod `json:"contention_method"`
	MinNumCandidateSlots            int              `json:"min_num_candidate_slots"`
	MaxNumCandidateSlots            int              `json:"max_num_candidate_slots"`
	AlwaysScheduleNextBroadcastSlot bool             `json:"always_schedule_next_broadcast_slot"`
	AdvertiseNextSlotInCurrentHeader bool            `json:"advertise_next_slot_in_current_header"`

	DefaultPPLinkTimeout  int  `json:"default_pp_link_timeout"`
	DefaultBurstOffset    int  `json:"default_burst_offset"`
	AdaptiveBurstOffset   bool `json:"adaptive_burst_offset"`
	MinConsecutiveTxSlots int  `json:"min_consecutive_tx_slots"`
	MaxConsecutiveTxSlots int  `json:"max_consecutive_tx_slots"`
	ForceBidirectionalLinks bool `json:"force_bidirectional_links"`
	MaxPPEstablishmentAttempts int `json:"max_pp_establishment_attempts"`
	MaxNoOfTolerableEmptyBursts int `json:"max_no_of_tolerable_empty_bursts"`

	MinBeaconGap    int `json:"min_beacon_gap"`
	MinBeaconInterval int `json:"min_beacon_interval"`
	MaxBeaconInterval int `json:"max_beacon_interval"`

	DutyCyclePeriod    int     `json:"duty_cycle_period"`
	MaxDutyCycle       float64 `json:"max_duty_cycle"`
	MinNumSupportedPPLinks int `json:"min_num_supported_pp_links"`

	NumReceivers    int `json:"num_receivers"`
	NumTransmitters int `json:"num_transmitters"`

	PlanningHorizon int `json:"planning_horizon"`

	SHSlotCapacityBits int `json:"sh_slot_capacity_bits"`
	PPSlotCapacityBits int `json:"pp_slot_capacity_bits"`
	LinkHeaderBits     int `json:"link_header_bits"`
	BeaconPayloadBits  int `json:"beacon_payload_bits"`

	PPCandidatesPerChannel   int `json:"pp_candidates_per_channel"`
	MinOffsetToAllowProcessing int `json:"min_offset_to_allow_processing"`
}

// Default returns a Config populated with sensible defaults drawn from
// stated typical values.
func Default() Config {
	return Config{
		TargetCollisionProb:             0.05,
		ContentionMethod:                BinomialEstimate,
		MinNumCandidateSlots:            3,
		MaxNumCandidateSlots:            500,
		AlwaysScheduleNextBroadcastSlot: false,
		AdvertiseNextSlotInCurrentHeader: true,

		DefaultPPLinkTimeout:        10,
		DefaultBurstOffset:          100,
		AdaptiveBurstOffset:         false,
		MinConsecutiveTxSlots:       1,
		MaxConsecutiveTxSlots:       5,
		ForceBidirectionalLinks:     false,
		MaxPPEstablishmentAttempts:  5,
		MaxNoOfTolerableEmptyBursts: 3,

		MinBeaconGap:      50,
		MinBeaconInterval: 1000,
		MaxBeaconInterval: 4000,

		DutyCyclePeriod:        10000,
		MaxDutyCycle:           0.4,
		MinNumSupportedPPLinks: 1,

		NumReceivers:    1,
		NumTransmitters: 1,

		PlanningHorizon: 1024,

		SHSlotCapacityBits: 1200,
		PPSlotCapacityBits: 4800,
		LinkHeaderBits:     96,
		BeaconPayloadBits:  512,

		PPCandidatesPerChannel:     3,
		MinOffsetToAllowProcessing: 2,
	}
}

// Load reads a JSON config file at path. If the file is missing or
// unreadable, the default config is returned — never an error.
func Load(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg as JSON to path.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
