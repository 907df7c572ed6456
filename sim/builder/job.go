package builder

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/blob"
	"github.com/ai4ci/jpansim4r/sim/flow"
	"github.com/ai4ci/jpansim4r/sim/ledger"
	"github.com/ai4ci/jpansim4r/sim/trace"
)

// EnvPrefix prefixes the environment variables that override job fields.
const EnvPrefix = "JPANSIM_"

// Job is the YAML description of one batch of simulations: a model, the
// configurations and parameterisations to combine, how many replicates of
// each, and where results go.
// Loaded via LoadJob(path).
type Job struct {
	Name        string          `yaml:"name"`
	Date        string          `yaml:"date"` // YYYY-MM-DD, default today (UTC)
	Seed        int64           `yaml:"seed"`
	Directory   string          `yaml:"directory"`
	Cache       CacheSpec       `yaml:"cache"`
	Bootstraps  BootstrapCounts `yaml:"bootstraps"`
	Threads     int             `yaml:"threads"` // default runtime.NumCPU()
	Monitor     MonitorSpec     `yaml:"monitor"`
	TargetSteps int64           `yaml:"target_steps,omitempty"` // 0 = run to completion
	ErrorPolicy string          `yaml:"error_policy"`
	Trace       string          `yaml:"trace"`
	Outputs     []OutputSpec    `yaml:"outputs"`
	Ledger      LedgerSpec      `yaml:"ledger"`

	Model             string      `yaml:"model"`
	Configurations    []yaml.Node `yaml:"configurations"`
	Parameterisations []yaml.Node `yaml:"parameterisations"`
}

// CacheSpec enables the stage cache and selects its blob store.
type CacheSpec struct {
	Enabled     bool `yaml:"enabled"`
	SaveFinal   bool `yaml:"save_final"` // also store the final state of every run
	blob.Config `yaml:",inline"`
}

// BootstrapCounts sets the replicates per axis value. Zero means 1.
type BootstrapCounts struct {
	Configuration    int `yaml:"configuration"`
	Parameterisation int `yaml:"parameterisation"`
	Execution        int `yaml:"execution"`
}

// MonitorSpec tunes admission control.
type MonitorSpec struct {
	MemoryThresholdMB uint64        `yaml:"memory_threshold_mb"` // default 2048
	Interval          time.Duration `yaml:"interval"`            // default 100ms
	SummaryInterval   time.Duration `yaml:"summary_interval"`    // default 10s
}

// OutputSpec is one CSV result file.
type OutputSpec struct {
	File    string   `yaml:"file"` // relative to the job directory
	Columns []string `yaml:"columns"`
}

// LedgerSpec selects the run index.
type LedgerSpec struct {
	Driver string `yaml:"driver"` // memory | sqlite | postgres (default memory)
	DSN    string `yaml:"dsn"`
}

// LoadJob reads a job file, applies defaults and environment overrides,
// and validates the result. Unknown keys are rejected.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job: %w", err)
	}
	return ParseJob(data)
}

// ParseJob is LoadJob on an in-memory document.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&job); err != nil {
		return nil, fmt.Errorf("parsing job: %w", err)
	}
	job.applyDefaults()
	if err := job.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := job.Decode(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) applyDefaults() {
	if j.Name == "" {
		j.Name = "job"
	}
	if j.Date == "" {
		j.Date = time.Now().UTC().Format("2006-01-02")
	}
	if j.Directory == "" {
		j.Directory = "output"
	}
	if j.Threads == 0 {
		j.Threads = runtime.NumCPU()
	}
	if j.Monitor.MemoryThresholdMB == 0 {
		j.Monitor.MemoryThresholdMB = flow.DefaultMemoryThreshold >> 20
	}
	if j.Monitor.Interval == 0 {
		j.Monitor.Interval = flow.DefaultPollInterval
	}
	if j.Monitor.SummaryInterval == 0 {
		j.Monitor.SummaryInterval = flow.DefaultSummaryInterval
	}
}

// applyEnv overrides fields from JPANSIM_* variables.
func (j *Job) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, set func(int64)) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		set(n)
		return nil
	}
	str("DATE", &j.Date)
	str("DIRECTORY", &j.Directory)
	str("ERROR_POLICY", &j.ErrorPolicy)
	str("TRACE", &j.Trace)
	str("LEDGER_DRIVER", &j.Ledger.Driver)
	str("LEDGER_DSN", &j.Ledger.DSN)
	str("CACHE_DRIVER", &j.Cache.Driver)
	str("CACHE_ROOT", &j.Cache.Root)
	str("CACHE_S3_BUCKET", &j.Cache.S3.Bucket)
	str("CACHE_S3_ENDPOINT", &j.Cache.S3.Endpoint)
	if v, ok := lookup(EnvPrefix + "CACHE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sCACHE: %w", EnvPrefix, err)
		}
		j.Cache.Enabled = b
	}
	// S3 secrets are only ever read from the environment.
	str("CACHE_S3_ACCESS_KEY_ID", &j.Cache.S3.AccessKeyID)
	str("CACHE_S3_SECRET_ACCESS_KEY", &j.Cache.S3.SecretAccessKey)
	for _, err := range []error{
		num("SEED", func(n int64) { j.Seed = n }),
		num("THREADS", func(n int64) { j.Threads = int(n) }),
		num("TARGET_STEPS", func(n int64) { j.TargetSteps = n }),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that all fields of the job are valid.
func (j *Job) Validate() error {
	if _, err := j.ParsedDate(); err != nil {
		return err
	}
	if _, ok := sim.LookupModel(j.Model); !ok {
		return fmt.Errorf("unknown model %q; valid options: %s", j.Model, strings.Join(sim.ModelNames(), ", "))
	}
	if len(j.Configurations) == 0 {
		return fmt.Errorf("at least one configuration required")
	}
	if len(j.Parameterisations) == 0 {
		return fmt.Errorf("at least one parameterisation required")
	}
	if j.Threads < 1 {
		return fmt.Errorf("threads must be >= 1, got %d", j.Threads)
	}
	if j.TargetSteps < 0 {
		return fmt.Errorf("target_steps must be >= 0, got %d", j.TargetSteps)
	}
	b := j.Bootstraps
	if b.Configuration < 0 || b.Parameterisation < 0 || b.Execution < 0 {
		return fmt.Errorf("bootstrap counts must be non-negative, got %d/%d/%d", b.Configuration, b.Parameterisation, b.Execution)
	}
	if !flow.IsValidErrorPolicy(j.ErrorPolicy) {
		return fmt.Errorf("unknown error_policy %q; valid options: skip, halt", j.ErrorPolicy)
	}
	if j.Trace != "" && !trace.IsValidTraceLevel(j.Trace) {
		return fmt.Errorf("unknown trace level %q; valid options: none, decisions", j.Trace)
	}
	if !ledger.IsValidDriver(j.Ledger.Driver) {
		return fmt.Errorf("unknown ledger driver %q; valid options: memory, sqlite, postgres", j.Ledger.Driver)
	}
	if j.Cache.Enabled {
		if err := j.Cache.Config.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	for i, out := range j.Outputs {
		if out.File == "" {
			return fmt.Errorf("outputs[%d]: file required", i)
		}
		if len(out.Columns) == 0 {
			return fmt.Errorf("outputs[%d]: at least one column required", i)
		}
	}
	return nil
}

// ParsedDate is the job date as a time at midnight UTC.
func (j *Job) ParsedDate() (time.Time, error) {
	d, err := time.Parse("2006-01-02", j.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD, got %q", j.Date)
	}
	return d, nil
}

// Decode decodes the configuration and parameterisation records with the
// decoders of the job's model. Unknown keys are rejected.
func (j *Job) Decode() ([]sim.Configuration, []sim.Parameterisation, error) {
	spec, ok := sim.LookupModel(j.Model)
	if !ok {
		return nil, nil, fmt.Errorf("unknown model %q", j.Model)
	}
	configs := make([]sim.Configuration, 0, len(j.Configurations))
	for i := range j.Configurations {
		c, err := spec.DecodeConfiguration(strict(&j.Configurations[i]))
		if err != nil {
			return nil, nil, fmt.Errorf("configurations[%d]: %w", i, err)
		}
		configs = append(configs, c)
	}
	params := make([]sim.Parameterisation, 0, len(j.Parameterisations))
	for i := range j.Parameterisations {
		p, err := spec.DecodeParameterisation(strict(&j.Parameterisations[i]))
		if err != nil {
			return nil, nil, fmt.Errorf("parameterisations[%d]: %w", i, err)
		}
		params = append(params, p)
	}
	if err := uniqueNames(configs); err != nil {
		return nil, nil, fmt.Errorf("configurations: %w", err)
	}
	if err := uniqueNames(params); err != nil {
		return nil, nil, fmt.Errorf("parameterisations: %w", err)
	}
	return configs, params, nil
}

// strict decodes a node with unknown-field checking, which yaml.Node.Decode
// does not offer, by re-encoding it.
func strict(node *yaml.Node) func(any) error {
	return func(v any) error {
		data, err := yaml.Marshal(node)
		if err != nil {
			return err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(v)
	}
}

// uniqueNames rejects empty or repeated names; names are part of every
// simulation id and cache path.
func uniqueNames[N sim.Named](values []N) error {
	seen := map[string]bool{}
	for i, v := range values {
		name := v.Name()
		if name == "" {
			return fmt.Errorf("entry %d has no name", i)
		}
		canon := sim.CanonicalName(name)
		if seen[canon] {
			return fmt.Errorf("duplicate name %q", name)
		}
		seen[canon] = true
	}
	return nil
}
