package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// GenomeRecord is a saved genome, usually a checkpoint or a run's champion.
type GenomeRecord struct {
	VersionedRecord
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	AgentID    int    `json:"agent_id"`
	Generation int    `json:"generation"`
	Bytes      []byte `json:"bytes"`
}

// PopulationSnapshot lists the agents alive in one generation.
type PopulationSnapshot struct {
	VersionedRecord
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Generation int    `json:"generation"`
	AgentIDs   []int  `json:"agent_ids"`
	// BranchAgentID and NearestBranchID locate where the checkpointed line
	// meets the rest of the population; -1 when it never branches.
	BranchAgentID   int `json:"branch_agent_id"`
	NearestBranchID int `json:"nearest_branch_id"`
}

// LineageRecord is one agent on a line of descent.
type LineageRecord struct {
	AgentID               int     `json:"agent_id"`
	ParentID              int     `json:"parent_id"`
	Born                  int     `json:"born"`
	GenomeLength          int     `json:"genome_length"`
	Fitness               float64 `json:"fitness"`
	BestSteps             int     `json:"best_steps"`
	MeanStepsPerOffspring float64 `json:"mean_steps_per_offspring"`
	Correct               int     `json:"correct"`
	Incorrect             int     `json:"incorrect"`
}

type GenerationStats struct {
	Generation       int     `json:"generation"`
	MaxFitness       float64 `json:"max_fitness"`
	MeanFitness      float64 `json:"mean_fitness"`
	MinFitness       float64 `json:"min_fitness"`
	MeanGenomeLength float64 `json:"mean_genome_length"`
	MeanGates        float64 `json:"mean_gates"`
	UniformFallback  bool    `json:"uniform_fallback"`
}
