package main

import (
	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/app"
)

// measurementFlags are the operator inputs shared by gate and report.
type measurementFlags struct {
	reviewPeriodDays    float64
	routeAccuracy       float64
	suppressionVariance float64
	operatorEnable      bool
	killSwitch          bool
	killSwitchReason    string
}

func (m *measurementFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&m.reviewPeriodDays, "review-period", 0, "observed review period in days")
	f.Float64Var(&m.routeAccuracy, "route-accuracy", 0, "route accuracy percentage from operator review")
	f.Float64Var(&m.suppressionVariance, "suppression-variance", 0, "suppression variance percentage")
	f.BoolVar(&m.operatorEnable, "operator-enable", false, "explicit operator approval for Option C")
	f.BoolVar(&m.killSwitch, "kill-switch", false, "force advisory mode for this evaluation")
	f.StringVar(&m.killSwitchReason, "reason", "", "reason recorded with the kill switch")
}

// request builds a gate request. Flags left unset stay nil so their checks fail closed.
func (m *measurementFlags) request(cmd *cobra.Command) (app.GateRequest, error) {
	f := cmd.Flags()
	var out app.OperatorMeasurements
	if f.Changed("review-period") {
		v := m.reviewPeriodDays
		out.ReviewPeriodDays = &v
	}
	if f.Changed("route-accuracy") {
		v := m.routeAccuracy
		out.RouteAccuracy = &v
	}
	if f.Changed("suppression-variance") {
		v := m.suppressionVariance
		out.SuppressionVariance = &v
	}
	if f.Changed("operator-enable") {
		v := m.operatorEnable
		out.OperatorEnable = &v
	}
	if err := out.Validate(); err != nil {
		return app.GateRequest{}, err
	}
	return app.GateRequest{
		Measurements:     out,
		KillSwitch:       m.killSwitch,
		KillSwitchReason: m.killSwitchReason,
	}, nil
}
