// Package simulation moves a group of devices through simulated days.
//
// It plays the host of every device: it drives their clocks, carries their
// broadcasts to each other and lets them meet for a stretch of the day.
package simulation

import (
	"fmt"
	"time"

	"github.com/TheusHen/proxtrace/proxtrace"
	"github.com/TheusHen/proxtrace/proxtrace/epoch"
)

// Simulation holds the shared clock of a set of devices.
type Simulation struct {
	cfg      proxtrace.Config
	schedule epoch.Schedule
	today    epoch.Day
	people   []*proxtrace.Device
}

// New starts a simulation at midnight of start.
func New(cfg proxtrace.Config, start epoch.Day) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	schedule, err := epoch.NewSchedule(cfg.EpochLength)
	if err != nil {
		return nil, err
	}
	return &Simulation{cfg: cfg, schedule: schedule, today: start}, nil
}

// Today returns the simulated day.
func (s *Simulation) Today() epoch.Day { return s.today }

// Now returns the first instant of the simulated day.
func (s *Simulation) Now() time.Time { return s.today.Start() }

// Join creates a device with a random secret and adds it to the simulation.
func (s *Simulation) Join() (*proxtrace.Device, error) {
	d, err := proxtrace.NewDevice(s.cfg, s.Now())
	if err != nil {
		return nil, err
	}
	s.people = append(s.people, d)
	return d, nil
}

// Add puts existing devices under the simulation clock.
func (s *Simulation) Add(people ...*proxtrace.Device) {
	s.people = append(s.people, people...)
}

// NextDay moves every device to midnight of the following day.
func (s *Simulation) NextDay() error {
	s.today++
	for i, p := range s.people {
		if err := p.Tick(s.Now()); err != nil {
			return fmt.Errorf("device %d: %w", i, err)
		}
	}
	return nil
}

// Meeting lets people exchange EphIDs in every epoch between the clock times
// from and to of the simulated day. Each epoch they hear each other twice,
// one contact threshold and a second apart (or at the epoch's last instant when
// that does not fit), which confirms one contact per pair and epoch.
func (s *Simulation) Meeting(from, to time.Duration, people ...*proxtrace.Device) error {
	if len(people) < 2 {
		return fmt.Errorf("simulation: a meeting needs at least two people")
	}
	gap := min(s.cfg.ContactThreshold+time.Second, s.schedule.Length()-time.Nanosecond)
	for now := range s.schedule.Window(s.today, from, to) {
		for _, p := range people {
			if err := p.Tick(now); err != nil {
				return err
			}
		}
		if err := s.share(people, now); err != nil {
			return err
		}
		if err := s.share(people, now.Add(gap)); err != nil {
			return err
		}
		for _, p := range people {
			if err := p.Tick(now.Add(s.schedule.Length())); err != nil {
				return err
			}
		}
	}
	return nil
}

// share broadcasts each person's current EphID to everyone else in the group.
func (s *Simulation) share(people []*proxtrace.Device, now time.Time) error {
	for i, sender := range people {
		id, err := sender.CurrentEphID(now)
		if err != nil {
			return err
		}
		for j, receiver := range people {
			if i == j {
				continue
			}
			if err := receiver.ReceiveScan(id.Bytes(), now); err != nil {
				return err
			}
		}
	}
	return nil
}
