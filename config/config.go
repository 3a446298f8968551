// Package config holds the YAML run parameters for the command-line
// driver.
package config

import (
	"fmt"

	"github.com/ghodss/yaml"

	"github.com/geosparse/gopgi/mixture"
	"github.com/geosparse/gopgi/regularization"
)

// Parameters obtained from the YAML input file
type Parameters struct {
	Title          string   `yaml:"Title"`
	Properties     []string `yaml:"Properties"`
	NComponents    int      `yaml:"NComponents"`
	CovarianceType string   `yaml:"CovarianceType"`
	NInit          int      `yaml:"NInit"`
	MaxIterations  int      `yaml:"MaxIterations"`
	Tolerance      float64  `yaml:"Tolerance"`
	RegCovar       float64  `yaml:"RegCovar"`
	Seed           int64    `yaml:"Seed"`
	AlphaX         float64  `yaml:"AlphaX"`
	UseVolumes     bool     `yaml:"UseVolumes"`
	EvalType       string   `yaml:"EvalType"`
	ApproxGradient bool     `yaml:"ApproxGradient"`
	SamplesFile    string   `yaml:"SamplesFile"`
	WeightsFile    string   `yaml:"WeightsFile"`
}

func (p *Parameters) Parse(data []byte) error {
	p.setDefaults()
	return yaml.Unmarshal(data, p)
}

func (p *Parameters) setDefaults() {
	p.NComponents = 2
	p.CovarianceType = "full"
	p.NInit = 1
	p.MaxIterations = 100
	p.Tolerance = 1.e-3
	p.EvalType = "approx"
	p.ApproxGradient = true
}

func (p *Parameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", p.Title)
	fmt.Printf("%v\t\t= Properties\n", p.Properties)
	fmt.Printf("[%d]\t\t\t= NComponents\n", p.NComponents)
	fmt.Printf("[%s]\t\t= CovarianceType\n", p.CovarianceType)
	fmt.Printf("[%d]\t\t\t= NInit\n", p.NInit)
	fmt.Printf("[%d]\t\t\t= MaxIterations\n", p.MaxIterations)
	fmt.Printf("%8.2e\t\t= Tolerance\n", p.Tolerance)
	fmt.Printf("[%s]\t\t= EvalType\n", p.EvalType)
	fmt.Printf("[%v]\t\t= ApproxGradient\n", p.ApproxGradient)
	fmt.Printf("[%v]\t\t= UseVolumes\n", p.UseVolumes)
	fmt.Printf("\"%s\"\t= SamplesFile\n", p.SamplesFile)
}

// MixtureConfig translates the run parameters into a mixture fit
// configuration.
func (p *Parameters) MixtureConfig() (cfg mixture.Config, err error) {
	var ct mixture.CovarianceType
	if ct, err = mixture.ParseCovarianceType(p.CovarianceType); err != nil {
		return
	}
	cfg = mixture.Config{
		NComponents:    p.NComponents,
		CovarianceType: ct,
		NInit:          p.NInit,
		MaxIter:        p.MaxIterations,
		Tol:            p.Tolerance,
		RegCovar:       p.RegCovar,
		Seed:           p.Seed,
	}
	return
}

// RegularizationOptions translates the run parameters into functional
// options.
func (p *Parameters) RegularizationOptions() (opts regularization.Options, err error) {
	var (
		ct mixture.CovarianceType
		et regularization.EvalType
	)
	if ct, err = mixture.ParseCovarianceType(p.CovarianceType); err != nil {
		return
	}
	if et, err = regularization.ParseEvalType(p.EvalType); err != nil {
		return
	}
	opts = regularization.Options{
		CovarianceType: ct,
		AlphaX:         p.AlphaX,
		Eval: regularization.EvalConfig{
			Type:           et,
			ApproxGradient: p.ApproxGradient,
		},
	}
	return
}
