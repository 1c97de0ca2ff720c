// Package export превращает сохранённый результат симуляции в отчёт:
// JSON, CSV или XLSX.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"urbansim/internal/repository"
	"urbansim/internal/service"
	"urbansim/pkg/apperror"
)

// Поддерживаемые форматы
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Report готовый отчёт с типом содержимого
type Report struct {
	Body        []byte
	ContentType string
	Filename    string
}

// Render строит отчёт по сохранённому результату в заданном формате
func Render(res *repository.SimulationResult, format string) (*Report, error) {
	var m service.FinalMetrics
	if len(res.Metrics) > 0 {
		if err := json.Unmarshal(res.Metrics, &m); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "stored metrics are not readable")
		}
	}

	switch format {
	case FormatJSON, "":
		return renderJSON(res)
	case FormatCSV:
		return renderCSV(res, &m)
	case FormatXLSX:
		return renderXLSX(res, &m)
	default:
		return nil, apperror.NewWithField(apperror.CodeInvalidArgument,
			fmt.Sprintf("unsupported export format %q", format), "format")
	}
}

func renderJSON(res *repository.SimulationResult) (*Report, error) {
	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to encode result")
	}
	return &Report{
		Body:        body,
		ContentType: "application/json",
		Filename:    fmt.Sprintf("simulation_%s.json", res.ID),
	}, nil
}

// metricRows пары имя-значение для табличных форматов
func metricRows(res *repository.SimulationResult, m *service.FinalMetrics) [][]string {
	return [][]string{
		{"simulation_id", res.ID},
		{"status", res.Status},
		{"created_at", res.CreatedAt.Format("2006-01-02 15:04:05")},
		{"driving_distance_km", formatFloat(m.DrivingDistanceKm)},
		{"congestion_length_km", formatFloat(m.CongestionLengthKm)},
		{"co2_emissions_kg", formatFloat(m.CO2EmissionsKg)},
		{"roads_count", strconv.Itoa(m.RoadsCount)},
		{"nodes_count", strconv.Itoa(m.NodesCount)},
		{"incidents_count", strconv.Itoa(m.IncidentsCount)},
		{"affected_edges", strconv.Itoa(m.AffectedEdges)},
		{"total_vehicles", strconv.Itoa(m.TotalVehicles)},
		{"arrived_vehicles", strconv.Itoa(m.ArrivedVehicles)},
	}
}

func renderCSV(res *repository.SimulationResult, m *service.FinalMetrics) (*Report, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"metric", "value"}); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write csv")
	}
	for _, row := range metricRows(res, m) {
		if err := w.Write(row); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write csv")
		}
	}

	if len(m.ConstructionImpacts) > 0 {
		_ = w.Write(nil)
		_ = w.Write([]string{"edge_id", "original_speed", "reduced_speed"})
		for _, impact := range m.ConstructionImpacts {
			_ = w.Write([]string{
				impact.EdgeID,
				formatFloat(impact.OriginalSpeed),
				formatFloat(impact.ReducedSpeed),
			})
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to flush csv")
	}

	return &Report{
		Body:        buf.Bytes(),
		ContentType: "text/csv",
		Filename:    fmt.Sprintf("simulation_%s.csv", res.ID),
	}, nil
}

func renderXLSX(res *repository.SimulationResult, m *service.FinalMetrics) (*Report, error) {
	f := excelize.NewFile()
	defer f.Close()

	const metricsSheet = "Metrics"
	f.SetSheetName("Sheet1", metricsSheet)

	if err := f.SetSheetRow(metricsSheet, "A1", &[]any{"Metric", "Value"}); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write xlsx")
	}
	for i, row := range metricRows(res, m) {
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(metricsSheet, cell, &[]any{row[0], row[1]}); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write xlsx")
		}
	}

	if len(m.ConstructionImpacts) > 0 {
		const impactsSheet = "Construction Impacts"
		if _, err := f.NewSheet(impactsSheet); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to create xlsx sheet")
		}
		if err := f.SetSheetRow(impactsSheet, "A1", &[]any{"Edge", "Original speed", "Reduced speed"}); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write xlsx")
		}
		for i, impact := range m.ConstructionImpacts {
			cell := fmt.Sprintf("A%d", i+2)
			row := []any{impact.EdgeID, impact.OriginalSpeed, impact.ReducedSpeed}
			if err := f.SetSheetRow(impactsSheet, cell, &row); err != nil {
				return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write xlsx")
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to encode xlsx")
	}

	return &Report{
		Body:        buf.Bytes(),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Filename:    fmt.Sprintf("simulation_%s.xlsx", res.ID),
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
