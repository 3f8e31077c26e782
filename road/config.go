package road

import (
	"fmt"

	"LaneFinder/detect"
	"LaneFinder/lane"
)

// CrossCheck bounds how far the two fitted boundaries may disagree.
type CrossCheck struct {
	MinLaneWidth      float64 `yaml:"minLaneWidth" json:"minLaneWidth"`           // meters
	MaxLaneWidth      float64 `yaml:"maxLaneWidth" json:"maxLaneWidth"`           // meters
	MaxCurvatureDelta float64 `yaml:"maxCurvatureDelta" json:"maxCurvatureDelta"` // 1/m
}

type Config struct {
	Tracker    lane.Config   `yaml:"tracker" json:"tracker"`
	Detector   detect.Config `yaml:"detector" json:"detector"`
	Scale      lane.Scale    `yaml:"scale" json:"scale"`
	CrossCheck CrossCheck    `yaml:"crossCheck" json:"crossCheck"`
}

func DefaultConfig() Config {
	return Config{
		Tracker:  lane.DefaultConfig(),
		Detector: detect.DefaultConfig(),
		Scale:    lane.DefaultScale(),
		CrossCheck: CrossCheck{
			MinLaneWidth:      2.5,
			MaxLaneWidth:      5.0,
			MaxCurvatureDelta: 0.005,
		},
	}
}

func (c Config) Validate() error {
	if err := c.Tracker.Validate(); err != nil {
		return err
	}
	if err := c.Detector.Validate(); err != nil {
		return err
	}
	if c.Scale.XMetersPerPixel <= 0 || c.Scale.YMetersPerPixel <= 0 {
		return fmt.Errorf("road: scale must be positive, got %+v", c.Scale)
	}
	cc := c.CrossCheck
	if cc.MinLaneWidth < 0 || cc.MaxLaneWidth <= cc.MinLaneWidth {
		return fmt.Errorf("road: lane width range [%g,%g] is empty", cc.MinLaneWidth, cc.MaxLaneWidth)
	}
	if cc.MaxCurvatureDelta <= 0 {
		return fmt.Errorf("road: maxCurvatureDelta must be positive")
	}
	return nil
}
