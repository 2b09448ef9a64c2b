package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"modkeeper/internal/types"
)

const defaultMaxRestarts = 32

// Resolver turns a ResolveRequest into a consistent set of module
// versions. It reads the registry only; the same inputs always produce
// the same plan.
type Resolver struct {
	MaxRestarts int
}

func NewResolver() Resolver {
	return Resolver{MaxRestarts: defaultMaxRestarts}
}

func (r Resolver) Resolve(ctx context.Context, req types.ResolveRequest, reg *Registry) (types.ResolvePlan, error) {
	if reg == nil {
		return types.ResolvePlan{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("resolver requires a registry")
	}
	normalized, err := normalizeRequest(req, reg)
	if err != nil {
		return types.ResolvePlan{}, err
	}

	limit := r.MaxRestarts
	if limit <= 0 {
		limit = defaultMaxRestarts
	}
	pinned := map[string][]imposed{}
	excluded := map[string]map[string]bool{}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return types.ResolvePlan{}, err
		}
		state := newResolution(reg, normalized, pinned, excluded)
		plan, err := state.run()
		if err == nil {
			log.Ctx(ctx).Debug().
				Int("modules", len(plan.Modules)).
				Int("removals", len(plan.Removals)).
				Int("restarts", attempt).
				Msg("resolver completed")
			return plan, nil
		}
		restart, ok := err.(*restartRequest)
		if !ok {
			return types.ResolvePlan{}, err
		}
		if attempt >= limit {
			return types.ResolvePlan{}, unsatisfiable(restart.id, "version constraints do not converge", state.render(restart.id))
		}
		if restart.exclude != "" {
			if excluded[restart.id] == nil {
				excluded[restart.id] = map[string]bool{}
			}
			excluded[restart.id][restart.exclude] = true
			log.Ctx(ctx).Debug().
				Str("module", restart.id).
				Str("version", restart.exclude).
				Msg("resolver restarting without cyclic version")
			continue
		}
		pinned[restart.id] = append(pinned[restart.id], restart.imposed)
		log.Ctx(ctx).Debug().
			Str("module", restart.id).
			Str("constraint", ConstraintString(restart.imposed.constraint)).
			Msg("resolver restarting with pinned constraint")
	}
}

type target struct {
	id         string
	constraint types.VersionConstraint
}

type normalizedRequest struct {
	targets  []target
	explicit map[string]bool
	upgrade  map[string]bool
	removing map[string]bool
	host     string
}

// ParseTarget splits "id" or "id=version" into identifier and constraint.
func ParseTarget(raw string) (string, types.VersionConstraint, error) {
	value := strings.TrimSpace(raw)
	id, version, pinned := strings.Cut(value, "=")
	id = strings.TrimSpace(id)
	if id == "" || (pinned && strings.TrimSpace(version) == "") {
		return "", types.VersionConstraint{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid module target %q", raw))
	}
	if !pinned {
		return id, types.VersionConstraint{}, nil
	}
	constraint, err := ParseConstraint(version, "", "")
	if err != nil {
		return "", types.VersionConstraint{}, err
	}
	return id, constraint, nil
}

func normalizeRequest(req types.ResolveRequest, reg *Registry) (normalizedRequest, error) {
	out := normalizedRequest{
		explicit: map[string]bool{},
		upgrade:  map[string]bool{},
		removing: map[string]bool{},
		host:     strings.TrimSpace(req.HostVersion),
	}
	for _, raw := range req.Remove {
		id := strings.TrimSpace(raw)
		if id == "" {
			return normalizedRequest{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("removal target must not be empty")
		}
		if _, ok := reg.Installed(id); !ok {
			return normalizedRequest{}, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("module %s is not installed", id))
		}
		out.removing[id] = true
	}

	byID := map[string]target{}
	add := func(raw string, upgrade bool) error {
		id, constraint, err := ParseTarget(raw)
		if err != nil {
			return err
		}
		if out.removing[id] {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("module %s is both requested and removed", id))
		}
		if upgrade {
			if _, ok := reg.Installed(id); !ok {
				return errbuilder.New().
					WithCode(errbuilder.CodeNotFound).
					WithMsg(fmt.Sprintf("module %s is not installed", id))
			}
			out.upgrade[id] = true
		} else {
			if !reg.Known(id) && len(reg.Providers(id)) == 0 {
				return unsatisfiable(id, "not in catalog", nil)
			}
			out.explicit[id] = true
		}
		existing, ok := byID[id]
		if ok && existing.constraint.Kind != types.ConstraintAny {
			if constraint.Kind != types.ConstraintAny && constraint != existing.constraint {
				return errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("module %s requested with different versions", id))
			}
			return nil
		}
		byID[id] = target{id: id, constraint: constraint}
		return nil
	}
	for _, raw := range req.Install {
		if err := add(raw, false); err != nil {
			return normalizedRequest{}, err
		}
	}
	for _, raw := range req.Upgrade {
		if err := add(raw, true); err != nil {
			return normalizedRequest{}, err
		}
	}
	for _, t := range byID {
		out.targets = append(out.targets, t)
	}
	sort.Slice(out.targets, func(i, j int) bool {
		return out.targets[i].id < out.targets[j].id
	})
	return out, nil
}

type imposed struct {
	constraint types.VersionConstraint
	by         string
}

type acceptedModule struct {
	module     types.ModuleVersion
	auto       bool
	requiredBy map[string]struct{}
}

type workItem struct {
	rel types.Relationship
	// constraint replaces the relationship's version fields for request targets.
	constraint *types.VersionConstraint
	from       string
	chain      []string
	seed       bool
	auto       bool
}

// restartRequest asks Resolve to start over with a constraint imposed
// from the beginning, or with one version of id ruled out.
type restartRequest struct {
	id      string
	imposed imposed
	exclude string
}

func (r *restartRequest) Error() string {
	if r.exclude != "" {
		return fmt.Sprintf("restart resolution without %s %s", r.id, r.exclude)
	}
	return fmt.Sprintf("restart resolution with %s %s", r.id, ConstraintString(r.imposed.constraint))
}

type resolution struct {
	reg         *Registry
	req         normalizedRequest
	cache       *versionCache
	pinned      map[string][]imposed
	excluded    map[string]map[string]bool
	constraints map[string][]imposed
	accepted    map[string]*acceptedModule
	order       []string
	provided    map[string]string
	edges       map[string]map[string]struct{}
	queue       []workItem
}

func newResolution(reg *Registry, req normalizedRequest, pinned map[string][]imposed, excluded map[string]map[string]bool) *resolution {
	return &resolution{
		reg:         reg,
		req:         req,
		cache:       newVersionCache(),
		pinned:      pinned,
		excluded:    excluded,
		constraints: map[string][]imposed{},
		accepted:    map[string]*acceptedModule{},
		provided:    map[string]string{},
		edges:       map[string]map[string]struct{}{},
	}
}

func (s *resolution) run() (types.ResolvePlan, error) {
	seeded := map[string]bool{}
	for _, t := range s.req.targets {
		constraint := t.constraint
		auto := false
		if !s.req.explicit[t.id] {
			installed, _ := s.reg.Installed(t.id)
			auto = installed.AutoInstalled
		}
		s.queue = append(s.queue, workItem{
			rel:        types.Relationship{Name: t.id},
			constraint: &constraint,
			seed:       true,
			auto:       auto,
		})
		seeded[t.id] = true
	}
	for _, id := range s.reg.InstalledIDs() {
		installed, _ := s.reg.Installed(id)
		if installed.AutoInstalled || s.req.removing[id] || seeded[id] {
			continue
		}
		s.queue = append(s.queue, workItem{rel: types.Relationship{Name: id}, seed: true})
	}

	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]
		if err := s.process(item); err != nil {
			return types.ResolvePlan{}, err
		}
	}
	return s.plan()
}

func (s *resolution) process(item workItem) error {
	if len(item.rel.AnyOf) == 0 {
		return s.processSingle(item, item.rel)
	}
	for _, alt := range item.rel.AnyOf {
		name := strings.TrimSpace(alt.Name)
		constraint, err := RelationshipConstraint(alt)
		if err != nil {
			return s.relationshipError(item, err)
		}
		if acc, ok := s.accepted[name]; ok && allows(s.cache, constraint, acc.module.Version) {
			return s.processSingle(item, alt)
		}
		if _, ok := s.acceptedProvider(name, constraint); ok {
			return s.processSingle(item, alt)
		}
	}
	var names []string
	for _, alt := range item.rel.AnyOf {
		name := strings.TrimSpace(alt.Name)
		names = append(names, name)
		if s.req.removing[name] {
			continue
		}
		constraint, err := RelationshipConstraint(alt)
		if err != nil {
			return s.relationshipError(item, err)
		}
		if s.viable(name, constraint) {
			return s.processSingle(item, alt)
		}
	}
	return unsatisfiable(strings.Join(names, " | "), "no alternative can be installed", []string{fmt.Sprintf("any_of (required by %s)", item.from)})
}

// viable reports whether name could be satisfied now without failing.
func (s *resolution) viable(name string, constraint types.VersionConstraint) bool {
	if s.reg.Known(name) {
		if _, ok := s.accepted[name]; ok {
			return false
		}
		_, ok := s.selectCandidate(name, append(s.constraintsFor(name), imposed{constraint: constraint}))
		return ok
	}
	if constraint.Kind != types.ConstraintAny {
		return false
	}
	for _, provider := range s.reg.Providers(name) {
		if s.req.removing[provider] {
			continue
		}
		if _, ok := s.selectCandidate(provider, s.constraintsFor(provider)); ok {
			return true
		}
	}
	return false
}

func (s *resolution) processSingle(item workItem, rel types.Relationship) error {
	name := strings.TrimSpace(rel.Name)
	if name == "" {
		return s.relationshipError(item, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("relationship has no name"))
	}
	var constraint types.VersionConstraint
	if item.constraint != nil {
		constraint = *item.constraint
	} else {
		parsed, err := RelationshipConstraint(rel)
		if err != nil {
			return s.relationshipError(item, err)
		}
		constraint = parsed
	}

	for i, id := range item.chain {
		if id == name {
			cycle := append(append([]string(nil), item.chain[i:]...), name)
			return s.breakCycle(item.chain[i:], cycle)
		}
	}

	if s.req.removing[name] {
		if provider, ok := s.acceptedProvider(name, constraint); ok {
			s.link(item, provider)
			return nil
		}
		return s.removalBlocked(name, item.from)
	}

	if acc, ok := s.accepted[name]; ok {
		by := item.from
		if by == "" {
			by = "request"
		}
		s.constraints[name] = append(s.constraints[name], imposed{constraint: constraint, by: by})
		if !allows(s.cache, constraint, acc.module.Version) {
			return s.constraintViolated(name, imposed{constraint: constraint, by: by})
		}
		if item.seed && s.req.explicit[name] {
			acc.auto = false
		}
		s.link(item, name)
		return nil
	}

	if provider, ok := s.acceptedProvider(name, constraint); ok {
		s.link(item, provider)
		return nil
	}

	if s.reg.Known(name) {
		by := item.from
		if by == "" {
			by = "request"
		}
		s.constraints[name] = append(s.constraints[name], imposed{constraint: constraint, by: by})
		candidate, ok := s.selectCandidate(name, s.constraintsFor(name))
		if !ok {
			return unsatisfiable(name, "no compatible version", s.render(name))
		}
		return s.accept(name, candidate, item)
	}

	return s.acceptProvider(name, constraint, item)
}

func (s *resolution) acceptProvider(name string, constraint types.VersionConstraint, item workItem) error {
	providers := s.reg.Providers(name)
	if len(providers) == 0 || constraint.Kind != types.ConstraintAny {
		return unsatisfiable(name, "not in catalog", []string{s.describe(constraint, item.from)})
	}
	var installed, others []string
	removed := ""
	for _, provider := range providers {
		if s.req.removing[provider] {
			if removed == "" {
				removed = provider
			}
			continue
		}
		if _, ok := s.reg.Installed(provider); ok {
			installed = append(installed, provider)
		} else {
			others = append(others, provider)
		}
	}
	for _, provider := range append(installed, others...) {
		candidate, ok := s.selectCandidate(provider, s.constraintsFor(provider))
		if !ok {
			continue
		}
		return s.accept(provider, candidate, item)
	}
	if removed != "" {
		return s.removalBlocked(removed, item.from)
	}
	return unsatisfiable(name, "no provider has a compatible version", []string{s.describe(constraint, item.from)})
}

// selectCandidate keeps the installed version when it still satisfies
// every constraint and no upgrade was requested, and otherwise picks the
// highest host-compatible version that does.
func (s *resolution) selectCandidate(id string, constraints []imposed) (types.ModuleVersion, bool) {
	return s.selectCandidateExcept(id, constraints, "")
}

// selectCandidateExcept is selectCandidate with skip ruled out as well as
// every version excluded by an earlier cycle.
func (s *resolution) selectCandidateExcept(id string, constraints []imposed, skip string) (types.ModuleVersion, bool) {
	usable := func(version string) bool {
		if version == skip || s.excluded[id][version] {
			return false
		}
		return s.satisfiesAll(version, constraints)
	}
	if installed, ok := s.reg.Installed(id); ok && !s.req.upgrade[id] && usable(installed.Module.Version) {
		return installed.Module, true
	}
	for _, module := range s.reg.Versions(id) {
		if !hostCompatible(s.cache, module, s.req.host) {
			continue
		}
		if usable(module.Version) {
			return module, true
		}
	}
	return types.ModuleVersion{}, false
}

func (s *resolution) satisfiesAll(version string, constraints []imposed) bool {
	for _, c := range constraints {
		if !allows(s.cache, c.constraint, version) {
			return false
		}
	}
	return true
}

func (s *resolution) constraintsFor(id string) []imposed {
	out := append([]imposed(nil), s.pinned[id]...)
	return append(out, s.constraints[id]...)
}

func (s *resolution) accept(id string, module types.ModuleVersion, item workItem) error {
	for _, other := range s.order {
		existing := s.accepted[other].module
		if conflictsWith(s.cache, module, existing) || conflictsWith(s.cache, existing, module) {
			pair := []string{other, id}
			sort.Strings(pair)
			return &ResolveError{Kind: ResolveConflict, Modules: pair}
		}
	}

	auto := item.auto
	if !item.seed {
		auto = true
		if installed, ok := s.reg.Installed(id); ok {
			auto = installed.AutoInstalled
		}
	}
	s.accepted[id] = &acceptedModule{module: module, auto: auto, requiredBy: map[string]struct{}{}}
	s.order = append(s.order, id)
	for _, virtual := range module.Provides {
		virtual = strings.TrimSpace(virtual)
		if _, ok := s.provided[virtual]; !ok && virtual != "" {
			s.provided[virtual] = id
		}
	}
	s.link(item, id)

	chain := append(append([]string(nil), item.chain...), id)
	for _, dep := range module.Depends {
		s.queue = append(s.queue, workItem{rel: dep, from: id, chain: chain})
	}
	return nil
}

func (s *resolution) link(item workItem, id string) {
	if item.from == "" {
		return
	}
	if s.edges[item.from] == nil {
		s.edges[item.from] = map[string]struct{}{}
	}
	s.edges[item.from][id] = struct{}{}
	if acc, ok := s.accepted[id]; ok {
		acc.requiredBy[item.from] = struct{}{}
	}
}

// acceptedProvider finds an accepted module other than name itself that
// provides name. Provided identities carry no version, so only an any
// constraint matches them.
func (s *resolution) acceptedProvider(name string, constraint types.VersionConstraint) (string, bool) {
	if constraint.Kind != types.ConstraintAny {
		return "", false
	}
	provider, ok := s.provided[name]
	return provider, ok
}

func (s *resolution) constraintViolated(id string, added imposed) error {
	for _, pin := range s.pinned[id] {
		if pin.constraint == added.constraint {
			return unsatisfiable(id, "conflicting version constraints", s.render(id))
		}
	}
	if _, ok := s.selectCandidate(id, s.constraintsFor(id)); ok {
		return &restartRequest{id: id, imposed: added}
	}
	return unsatisfiable(id, "conflicting version constraints", s.render(id))
}

// breakCycle restarts without the accepted version of a cycle member that
// has another candidate, starting from the member that closed the cycle.
// Only a cycle no version choice can break is reported.
func (s *resolution) breakCycle(members []string, cycle []string) error {
	for i := len(members) - 1; i >= 0; i-- {
		id := members[i]
		acc, ok := s.accepted[id]
		if !ok {
			continue
		}
		if _, ok := s.selectCandidateExcept(id, s.constraintsFor(id), acc.module.Version); ok {
			return &restartRequest{id: id, exclude: acc.module.Version}
		}
	}
	return &ResolveError{Kind: ResolveCircularDependency, Cycle: cycle}
}

func (s *resolution) removalBlocked(id string, from string) error {
	dependents := map[string]struct{}{}
	if from != "" {
		dependents[from] = struct{}{}
	}
	for _, other := range s.reg.InstalledIDs() {
		if s.req.removing[other] {
			continue
		}
		installed, _ := s.reg.Installed(other)
		for _, name := range relationshipNames(installed.Module.Depends) {
			if name == id {
				dependents[other] = struct{}{}
			}
		}
	}
	return &ResolveError{
		Kind:       ResolveRemovalBlocked,
		Identifier: id,
		Dependents: sortedKeys(dependents),
	}
}

func (s *resolution) relationshipError(item workItem, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid relationship in %s", item.from)).
		WithCause(err)
}

func (s *resolution) render(id string) []string {
	var out []string
	for _, c := range s.constraintsFor(id) {
		out = append(out, s.describe(c.constraint, c.by))
	}
	return out
}

func (s *resolution) describe(constraint types.VersionConstraint, by string) string {
	if by == "" {
		by = "request"
	}
	return fmt.Sprintf("%s (required by %s)", ConstraintString(constraint), by)
}

func (s *resolution) plan() (types.ResolvePlan, error) {
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)

	deps := make(map[string][]string, len(ids))
	for _, id := range ids {
		deps[id] = sortedKeys(s.edges[id])
	}
	if _, cycle := dependencyOrder(ids, deps); len(cycle) > 0 {
		return types.ResolvePlan{}, s.breakCycle(cycle, cycle)
	}

	plan := types.ResolvePlan{
		Modules:      make([]types.PlannedModule, 0, len(ids)),
		Dependencies: deps,
		Removals:     sortedKeys(toSet(s.req.removing)),
		HostVersion:  s.req.host,
	}
	for _, id := range ids {
		acc := s.accepted[id]
		plan.Modules = append(plan.Modules, types.PlannedModule{
			Module:        acc.module,
			AutoInstalled: acc.auto,
			RequiredBy:    sortedKeys(acc.requiredBy),
		})
	}
	return plan, nil
}

// conflictsWith reports whether a declares a conflict matched by b.
func conflictsWith(cache *versionCache, a types.ModuleVersion, b types.ModuleVersion) bool {
	if a.Identifier == b.Identifier {
		return false
	}
	for _, rel := range flattenRelationships(a.Conflicts) {
		name := strings.TrimSpace(rel.Name)
		constraint, err := RelationshipConstraint(rel)
		if err != nil {
			continue
		}
		if name == b.Identifier && allows(cache, constraint, b.Version) {
			return true
		}
		if constraint.Kind == types.ConstraintAny {
			for _, virtual := range b.Provides {
				if strings.TrimSpace(virtual) == name {
					return true
				}
			}
		}
	}
	return false
}

func flattenRelationships(rels []types.Relationship) []types.Relationship {
	var out []types.Relationship
	for _, rel := range rels {
		if len(rel.AnyOf) > 0 {
			out = append(out, flattenRelationships(rel.AnyOf)...)
			continue
		}
		out = append(out, rel)
	}
	return out
}

func relationshipNames(rels []types.Relationship) []string {
	var out []string
	for _, rel := range flattenRelationships(rels) {
		if name := strings.TrimSpace(rel.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func toSet(values map[string]bool) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for key, ok := range values {
		if ok {
			out[key] = struct{}{}
		}
	}
	return out
}
