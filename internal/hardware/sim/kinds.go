package sim

import (
	"fmt"
	"strconv"
	"time"

	"meridian/internal/hardware"
)

// NewMount simulates an equatorial mount.
func NewMount(opts ...Option) *Unit {
	ops := map[string]opSpec{
		"slew": {duration: 2 * time.Second, apply: func(state map[string]any, op hardware.Op) error {
			target, ok := op.Args["target"]
			if !ok {
				return fmt.Errorf("slew: %w: target", errMissingArg)
			}
			state["pointing"] = target
			state["parked"] = false
			state["tracking"] = true
			return nil
		}},
		"track": {duration: 100 * time.Millisecond, apply: func(state map[string]any, _ hardware.Op) error {
			state["tracking"] = true
			return nil
		}},
		"stop": {duration: 100 * time.Millisecond, apply: func(state map[string]any, _ hardware.Op) error {
			state["tracking"] = false
			return nil
		}},
		"park": {duration: 1 * time.Second, apply: func(state map[string]any, _ hardware.Op) error {
			state["parked"] = true
			state["tracking"] = false
			state["pointing"] = "park"
			return nil
		}},
		"unpark": {duration: 500 * time.Millisecond, apply: func(state map[string]any, _ hardware.Op) error {
			state["parked"] = false
			return nil
		}},
	}
	return newUnit("mount", ops, map[string]any{"parked": true, "tracking": false, "pointing": "park"}, opts...)
}

// NewCamera simulates one CCD camera. Exposures take their duration from
// the duration_ms argument.
func NewCamera(index int, opts ...Option) *Unit {
	device := fmt.Sprintf("camera-%d", index)
	ops := map[string]opSpec{
		"expose": {duration: 1 * time.Second, apply: func(state map[string]any, op hardware.Op) error {
			state["last_frame_type"] = op.ArgOr("frame_type", "normal")
			state["last_target"] = op.ArgOr("target", "")
			exposures, _ := state["exposures_taken"].(int)
			state["exposures_taken"] = exposures + 1
			return nil
		}},
		"readout": {duration: 300 * time.Millisecond, apply: func(state map[string]any, _ hardware.Op) error {
			state["last_readout"] = time.Now().UTC().Format(time.RFC3339)
			return nil
		}},
		"set_temperature": {duration: 200 * time.Millisecond, apply: func(state map[string]any, op hardware.Op) error {
			raw, ok := op.Args["target_temp"]
			if !ok {
				return fmt.Errorf("set_temperature: %w: target_temp", errMissingArg)
			}
			temp, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("set_temperature: parse target_temp: %w", err)
			}
			state["ccd_temp"] = temp
			return nil
		}},
		"set_binning": {duration: 50 * time.Millisecond, apply: func(state map[string]any, op hardware.Op) error {
			state["binning"] = op.ArgOr("binning", "1")
			return nil
		}},
	}
	return newUnit(device, ops, map[string]any{"ccd_temp": -20.0, "binning": "1", "exposures_taken": 0}, opts...)
}

// NewFilterWheel simulates one filter wheel.
func NewFilterWheel(index int, opts ...Option) *Unit {
	device := fmt.Sprintf("filterwheel-%d", index)
	ops := map[string]opSpec{
		"set_filter": {duration: 500 * time.Millisecond, apply: func(state map[string]any, op hardware.Op) error {
			filter, ok := op.Args["filter"]
			if !ok {
				return fmt.Errorf("set_filter: %w: filter", errMissingArg)
			}
			state["filter"] = filter
			return nil
		}},
		"home": {duration: 1 * time.Second, apply: func(state map[string]any, _ hardware.Op) error {
			state["filter"] = "L"
			return nil
		}},
	}
	return newUnit(device, ops, map[string]any{"filter": "L"}, opts...)
}

// NewFocuser simulates one focuser.
func NewFocuser(index int, opts ...Option) *Unit {
	device := fmt.Sprintf("focuser-%d", index)
	ops := map[string]opSpec{
		"move": {duration: 400 * time.Millisecond, apply: func(state map[string]any, op hardware.Op) error {
			raw, ok := op.Args["position"]
			if !ok {
				return fmt.Errorf("move: %w: position", errMissingArg)
			}
			position, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("move: parse position: %w", err)
			}
			state["position"] = position
			return nil
		}},
		"home": {duration: 800 * time.Millisecond, apply: func(state map[string]any, _ hardware.Op) error {
			state["position"] = 0
			return nil
		}},
		"confirm": {duration: 100 * time.Millisecond, apply: nil},
	}
	return newUnit(device, ops, map[string]any{"position": 0}, opts...)
}

// NewDome simulates the dome.
func NewDome(opts ...Option) *Unit {
	ops := map[string]opSpec{
		"open": {duration: 2 * time.Second, apply: func(state map[string]any, _ hardware.Op) error {
			state["shutter"] = "open"
			return nil
		}},
		"close": {duration: 2 * time.Second, apply: func(state map[string]any, _ hardware.Op) error {
			state["shutter"] = "closed"
			return nil
		}},
	}
	return newUnit("dome", ops, map[string]any{"shutter": "closed"}, opts...)
}

// NewPower simulates the power distribution unit.
func NewPower(opts ...Option) *Unit {
	ops := map[string]opSpec{
		"on": {duration: 200 * time.Millisecond, apply: setOutlet(true)},
		"off": {duration: 200 * time.Millisecond, apply: setOutlet(false)},
		"all_on": {duration: 500 * time.Millisecond, apply: func(state map[string]any, _ hardware.Op) error {
			state["all_on"] = true
			return nil
		}},
		"all_off": {duration: 500 * time.Millisecond, apply: func(state map[string]any, _ hardware.Op) error {
			state["all_on"] = false
			return nil
		}},
	}
	return newUnit("power", ops, map[string]any{"all_on": false}, opts...)
}

func setOutlet(on bool) applyFunc {
	return func(state map[string]any, op hardware.Op) error {
		outlet, ok := op.Args["outlet"]
		if !ok {
			return fmt.Errorf("power: %w: outlet", errMissingArg)
		}
		state["outlet_"+outlet] = on
		return nil
	}
}
