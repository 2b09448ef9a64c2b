package app

import (
	"context"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"modkeeper/internal/core"
)

// ListModules projects the registry into rows sorted by req.SortBy. The
// rows are a copy; sorting them has no effect on later change requests.
func (s *Service) ListModules(ctx context.Context, req ListRequest) ([]ModuleRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	reg, err := s.loaded()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	less, err := rowOrder(req.SortBy)
	if err != nil {
		return nil, err
	}

	var rows []ModuleRow
	for _, id := range reg.AvailableIDs() {
		versions := reg.Versions(id)
		if len(versions) == 0 {
			continue
		}
		latest := versions[0]
		row := ModuleRow{
			Identifier:     id,
			Name:           latest.Name,
			Abstract:       latest.Abstract,
			LatestVersion:  latest.Version,
			HostVersionMax: latest.HostVersionMax,
		}
		if row.Name == "" {
			row.Name = id
		}
		if installed, ok := reg.Installed(id); ok {
			row.Installed = true
			row.InstalledVersion = installed.Module.Version
			row.AutoInstalled = installed.AutoInstalled
			row.InstalledAt = installed.InstalledAt
			row.HostVersionMax = installed.Module.HostVersionMax
		}
		if req.InstalledOnly && !row.Installed {
			continue
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if req.Descending {
			a, b = b, a
		}
		if result := less(a, b); result != 0 {
			return result < 0
		}
		return a.Identifier < b.Identifier
	})
	return rows, nil
}

func rowOrder(column ListColumn) (func(a ModuleRow, b ModuleRow) int, error) {
	switch column {
	case "", ListByName:
		return func(a ModuleRow, b ModuleRow) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}, nil
	case ListByVersion:
		return func(a ModuleRow, b ModuleRow) int {
			return core.CompareVersions(displayVersion(a), displayVersion(b))
		}, nil
	case ListByHostMax:
		return func(a ModuleRow, b ModuleRow) int {
			return core.CompareHostVersions(a.HostVersionMax, b.HostVersionMax)
		}, nil
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unknown sort column " + string(column))
	}
}

func displayVersion(row ModuleRow) string {
	if row.InstalledVersion != "" {
		return row.InstalledVersion
	}
	return row.LatestVersion
}
