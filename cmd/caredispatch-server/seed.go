package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/caredispatch/internal/domain/fleet"
	"github.com/ehr/caredispatch/internal/domain/ward"
	"github.com/ehr/caredispatch/pkg/apperr"
)

type demoWard struct {
	name       string
	department string
	bedType    string
	beds       int
}

var demoWards = []demoWard{
	{name: "ICU", department: "Critical Care", bedType: "icu", beds: 4},
	{name: "General Medicine", department: "Medicine", bedType: "standard", beds: 8},
	{name: "Emergency Observation", department: "Emergency", bedType: "trolley", beds: 6},
}

var demoVehicles = []fleet.Vehicle{
	{CallSign: "MEDIC-1", Type: fleet.TypeAmbulance},
	{CallSign: "MEDIC-2", Type: fleet.TypeAmbulance},
	{CallSign: "RRV-1", Type: fleet.TypeRapidResponse},
	{CallSign: "TRANSPORT-1", Type: fleet.TypeTransport},
}

// seedDemo loads a small hospital and fleet. Records that already exist are
// skipped so it can be rerun.
func seedDemo(ctx context.Context, svc *services, logger zerolog.Logger) error {
	var created int
	for _, dw := range demoWards {
		w := &ward.Ward{Name: dw.name, Department: dw.department}
		if err := svc.wards.CreateWard(ctx, w); err != nil {
			if apperr.IsConflict(err) {
				logger.Info().Str("ward", dw.name).Msg("ward already seeded")
				continue
			}
			return fmt.Errorf("seed ward %s: %w", dw.name, err)
		}
		for i := 1; i <= dw.beds; i++ {
			b := &ward.Bed{WardID: w.ID, Label: fmt.Sprintf("%s-%02d", dw.name[:3], i), BedType: dw.bedType}
			if err := svc.wards.CreateBed(ctx, b); err != nil {
				return fmt.Errorf("seed bed %s: %w", b.Label, err)
			}
			created++
		}
	}

	for _, tmpl := range demoVehicles {
		v := tmpl
		if err := svc.fleet.Create(ctx, &v); err != nil {
			if apperr.IsConflict(err) {
				logger.Info().Str("call_sign", v.CallSign).Msg("vehicle already seeded")
				continue
			}
			return fmt.Errorf("seed vehicle %s: %w", v.CallSign, err)
		}
		created++
	}

	logger.Info().Int("records", created).Msg("demo data seeded")
	return nil
}
