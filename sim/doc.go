// Package sim provides the core of the simulation batch engine: the
// lifecycle of one agent-based simulation and the bookkeeping that makes
// thousands of them reproducible.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - state.go: lifecycle states (UNCONFIGURED → … → COMPLETE) and precondition errors
//   - observed.go: ObservedSimulation, the unit that moves between pipeline stages
//   - simulation.go: Simulation, embedded by every model; identity, agents, sampler
//   - runner.go: the tick loop and final save
//
// # Architecture
//
// The sim package defines the model contract and the observation machinery;
// everything that runs many simulations lives in sub-packages:
//   - sim/builder/: configure / parameterise / bootstrap stages, snapshot cache, job files
//   - sim/flow/: demand-driven pipeline, worker pools, admission monitor, CSV results
//   - sim/blob/: snapshot storage (filesystem, memory, S3)
//   - sim/ledger/: run index (memory, SQLite, Postgres)
//   - sim/trace/: decision trace of admissions and stage outcomes
//   - sim/stats/: seeded sampler and delay distributions
//   - sim/models/: domain models
//
// Models register themselves via init() with RegisterModel, naming a
// constructor and the decoders of their configuration and parameterisation
// records.
//
// # Key Interfaces
//
//   - Model: stage hooks of a domain simulation (embeds *Simulation)
//   - Agent: per-agent hooks (embeds AgentCore)
//   - Observer: History, Last and ListHistory time series over a Subject
//   - Persistent: models whose state can be written to the snapshot cache
//
// # Identity and seeds
//
// A simulation is identified by its job date, configuration and
// parameterisation names and the three bootstrap indices. The same key
// yields the same seed on every platform, so a run can be repeated from its
// id alone.
package sim
