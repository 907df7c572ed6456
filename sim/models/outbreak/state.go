package outbreak

import (
	"encoding/json"
	"fmt"
)

type outbreakState struct {
	Config   Config        `json:"config"`
	Params   *Params       `json:"params,omitempty"`
	Current  *Params       `json:"current,omitempty"`
	Previous *Params       `json:"previous,omitempty"`
	People   []personState `json:"people"`
}

type personState struct {
	Contacts []Contact `json:"contacts"`
	Status   Status    `json:"status"`
	Previous Status    `json:"previous"`
	Newly    bool      `json:"newly,omitempty"`
	Days     int       `json:"days,omitempty"`
	Duration int       `json:"duration,omitempty"`
}

func (o *Outbreak) ModelName() string { return ModelName }

func (o *Outbreak) MarshalState() ([]byte, error) {
	st := outbreakState{Config: o.config()}
	if p, ok := o.Parameterisation().(Params); ok {
		cur := o.current()
		prev := o.PreviousParameterisation().(Params)
		st.Params, st.Current, st.Previous = &p, &cur, &prev
	}
	for _, a := range o.Agents() {
		p := a.(*Person)
		st.People = append(st.People, personState{
			Contacts: p.Contacts,
			Status:   p.Status,
			Previous: p.Previous,
			Newly:    p.Newly,
			Days:     p.Days,
			Duration: p.Duration,
		})
	}
	return json.Marshal(st)
}

func (o *Outbreak) UnmarshalState(data []byte) error {
	var st outbreakState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("outbreak state: %w", err)
	}
	o.RestoreConfiguration(st.Config)
	if st.Params != nil {
		o.RestoreParameterisation(*st.Params, *st.Current, *st.Previous)
		period, err := st.Params.infectiousPeriod()
		if err != nil {
			return err
		}
		o.period = period
	}
	if err := o.registerObservers(); err != nil {
		return err
	}
	for _, ps := range st.People {
		p := &Person{
			Contacts: ps.Contacts,
			Status:   ps.Status,
			Previous: ps.Previous,
			Newly:    ps.Newly,
			Days:     ps.Days,
			Duration: ps.Duration,
		}
		o.AddAgent(p)
		if err := p.registerObservers(); err != nil {
			return err
		}
	}
	return nil
}
