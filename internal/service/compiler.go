package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

const (
	universeCTE = "universe"
	dateLayout  = "2006-01-02"
)

// CompileIssue is an error or warning recorded while compiling. Issues never
// abort a compile.
type CompileIssue struct {
	NodeID     string                `json:"nodeId,omitempty"`
	Population domain.PopulationType `json:"population,omitempty"`
	Message    string                `json:"message"`
}

// CTE is one named fragment of the generated query.
type CTE struct {
	Name   string `json:"name"`
	NodeID string `json:"nodeId,omitempty"`
	SQL    string `json:"sql"`
}

// CompileResult is the generated SQL and everything recorded along the way.
type CompileResult struct {
	MeasureID     string                           `json:"measureId,omitempty"`
	SQL           string                           `json:"sql"`
	PopulationSQL map[domain.PopulationType]string `json:"populationSql,omitempty"`
	CTEs          []CTE                            `json:"ctes"`
	Errors        []CompileIssue                   `json:"errors,omitempty"`
	Warnings      []CompileIssue                   `json:"warnings,omitempty"`
}

// OK reports whether the compile recorded no errors.
func (r *CompileResult) OK() bool {
	return len(r.Errors) == 0
}

// DefaultCompilerConfig is the target schema used when none is configured.
func DefaultCompilerConfig() domain.CompilerConfig {
	fact := func(table string) domain.FactTableConfig {
		return domain.FactTableConfig{
			Table:         table,
			PatientColumn: "patient_id",
			CodeColumn:    "code",
			SystemColumn:  "code_system",
			DateColumn:    "event_date",
			ValueColumn:   "value_numeric",
		}
	}
	return domain.CompilerConfig{
		MeasurementPeriodStart: "2025-01-01",
		MeasurementPeriodEnd:   "2025-12-31",
		PatientTable:           "patient",
		PatientIDColumn:        "patient_id",
		BirthDateColumn:        "birth_date",
		GenderColumn:           "gender",
		ValueSetTable:          "value_set_code",
		InlineCodes:            true,
		FactTables: map[string]domain.FactTableConfig{
			string(domain.ElementDiagnosis):    fact("condition"),
			string(domain.ElementEncounter):    fact("encounter"),
			string(domain.ElementProcedure):    fact("procedure"),
			string(domain.ElementMedication):   fact("medication"),
			string(domain.ElementObservation):  fact("observation"),
			string(domain.ElementImmunization): fact("immunization"),
			string(domain.ElementAssessment):   fact("assessment"),
			string(domain.ElementDevice):       fact("device"),
			string(domain.ElementAllergy):      fact("allergy"),
		},
	}
}

// Compiler lowers criteria trees into CTE-based PostgreSQL. It is stateless
// and safe for concurrent use.
type Compiler struct {
	cfg domain.CompilerConfig
}

// NewCompiler creates a compiler. Blank fields fall back to the defaults.
func NewCompiler(cfg domain.CompilerConfig) *Compiler {
	def := DefaultCompilerConfig()
	if cfg.MeasurementPeriodStart == "" {
		cfg.MeasurementPeriodStart = def.MeasurementPeriodStart
	}
	if cfg.MeasurementPeriodEnd == "" {
		cfg.MeasurementPeriodEnd = def.MeasurementPeriodEnd
	}
	if cfg.PatientTable == "" {
		cfg.PatientTable = def.PatientTable
	}
	if cfg.PatientIDColumn == "" {
		cfg.PatientIDColumn = def.PatientIDColumn
	}
	if cfg.BirthDateColumn == "" {
		cfg.BirthDateColumn = def.BirthDateColumn
	}
	if cfg.GenderColumn == "" {
		cfg.GenderColumn = def.GenderColumn
	}
	if len(cfg.FactTables) == 0 {
		cfg.FactTables = def.FactTables
	}
	tables := make(map[string]domain.FactTableConfig, len(cfg.FactTables))
	for name, ft := range cfg.FactTables {
		if ft.PatientColumn == "" {
			ft.PatientColumn = "patient_id"
		}
		if ft.CodeColumn == "" {
			ft.CodeColumn = "code"
		}
		tables[strings.ToLower(name)] = ft
	}
	cfg.FactTables = tables
	events := make(map[string]domain.IndexEventConfig, len(cfg.IndexEvents))
	for name, ev := range cfg.IndexEvents {
		events[indexEventKey(name)] = ev
	}
	cfg.IndexEvents = events
	return &Compiler{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Compiler) Config() domain.CompilerConfig {
	return c.cfg
}

// CompileTree compiles a single criteria tree. The final statement selects
// the patients satisfying the root.
func (c *Compiler) CompileTree(root *domain.LogicalClause) CompileResult {
	comp := c.newCompilation(nil)
	name := universeCTE
	if root == nil {
		comp.warn("", "empty criteria tree selects every patient")
	} else {
		name = comp.clause(root)
	}
	if comp.clinical == 0 {
		comp.warn("", "no clinical predicates; query is demographics-only")
	}
	result := comp.result("")
	result.SQL = comp.withClause() + "\nSELECT patient_id FROM " + name + "\nORDER BY patient_id;\n"
	return result
}

// CompileMeasure compiles every population of a measure into named CTEs and
// a final query flagging each initial-population patient's membership.
func (c *Compiler) CompileMeasure(m *domain.Measure) CompileResult {
	comp := c.newCompilation(m)

	populations := make(map[domain.PopulationType]string)
	pops := comp.orderedPopulations(m)
	for _, t := range domain.PopulationOrder {
		list := pops[t]
		if len(list) == 0 && t != domain.PopulationInitial && t != domain.PopulationDenominator {
			continue
		}
		var p *domain.Population
		if len(list) > 0 {
			p = list[0]
		}
		populations[t] = comp.compilePopulation(t, p, populations)
		for i, dup := range list[1:] {
			comp.population = t
			comp.warn(dup.ID, fmt.Sprintf("duplicate %s population compiled as %s_%d and ignored in the result", t, t, i+2))
			comp.populationCTE(fmt.Sprintf("%s_%d", t, i+2), dup, populations)
		}
	}
	comp.population = ""

	if comp.clinical == 0 {
		comp.warn("", "no clinical predicates; query is demographics-only")
	}

	result := comp.result(m.ID)
	with := comp.withClause()

	var sb strings.Builder
	sb.WriteString(with)
	sb.WriteString("\nSELECT ip.patient_id")
	for _, t := range domain.PopulationOrder {
		name, ok := populations[t]
		switch {
		case t == domain.PopulationInitial:
			sb.WriteString(",\n  TRUE AS " + string(t))
		case !ok:
			sb.WriteString(",\n  FALSE AS " + string(t))
		default:
			fmt.Fprintf(&sb, ",\n  EXISTS (SELECT 1 FROM %s x WHERE x.patient_id = ip.patient_id) AS %s", name, t)
		}
	}
	sb.WriteString("\nFROM " + populations[domain.PopulationInitial] + " ip\nORDER BY ip.patient_id;\n")
	result.SQL = sb.String()

	result.PopulationSQL = make(map[domain.PopulationType]string, len(populations))
	for t, name := range populations {
		result.PopulationSQL[t] = with + "\nSELECT patient_id FROM " + name + "\nORDER BY patient_id;\n"
	}
	return result
}

// compilation carries the state of one compile.
type compilation struct {
	cfg        *domain.CompilerConfig
	measure    *domain.Measure
	start, end string

	ctes       []CTE
	indexCTEs  []CTE
	indexNames map[string]string
	counters   map[string]int

	population domain.PopulationType
	clinical   int
	errors     []CompileIssue
	warnings   []CompileIssue
}

func (c *Compiler) newCompilation(m *domain.Measure) *compilation {
	comp := &compilation{
		cfg:        &c.cfg,
		measure:    m,
		start:      dateLiteral(c.cfg.MeasurementPeriodStart),
		end:        dateLiteral(c.cfg.MeasurementPeriodEnd),
		indexNames: make(map[string]string),
		counters:   make(map[string]int),
	}
	if m != nil && !m.MeasurementPeriod.IsZero() {
		if !m.MeasurementPeriod.Start.IsZero() {
			comp.start = dateLiteral(m.MeasurementPeriod.Start.Format(dateLayout))
		}
		if !m.MeasurementPeriod.End.IsZero() {
			comp.end = dateLiteral(m.MeasurementPeriod.End.Format(dateLayout))
		}
	}
	return comp
}

func (comp *compilation) result(measureID string) CompileResult {
	ctes := make([]CTE, 0, len(comp.ctes)+len(comp.indexCTEs)+1)
	ctes = append(ctes, comp.universe())
	ctes = append(ctes, comp.indexCTEs...)
	ctes = append(ctes, comp.ctes...)
	return CompileResult{
		MeasureID: measureID,
		CTEs:      ctes,
		Errors:    comp.errors,
		Warnings:  comp.warnings,
	}
}

func (comp *compilation) universe() CTE {
	return CTE{
		Name: universeCTE,
		SQL: fmt.Sprintf("SELECT p.%s AS patient_id FROM %s p",
			comp.cfg.PatientIDColumn, comp.cfg.PatientTable),
	}
}

// withClause renders every CTE. Index-event CTEs come right after the
// universe so leaves can join them.
func (comp *compilation) withClause() string {
	all := comp.result("").CTEs
	parts := make([]string, len(all))
	for i, cte := range all {
		parts[i] = fmt.Sprintf("%s AS (\n  %s\n)", cte.Name, strings.ReplaceAll(cte.SQL, "\n", "\n  "))
	}
	return "WITH " + strings.Join(parts, ",\n")
}

func (comp *compilation) fail(nodeID, msg string) {
	comp.errors = append(comp.errors, CompileIssue{NodeID: nodeID, Population: comp.population, Message: msg})
}

func (comp *compilation) warn(nodeID, msg string) {
	comp.warnings = append(comp.warnings, CompileIssue{NodeID: nodeID, Population: comp.population, Message: msg})
}

func (comp *compilation) next(kind string) string {
	comp.counters[kind]++
	return fmt.Sprintf("%s_%d", kind, comp.counters[kind])
}

func (comp *compilation) add(name, nodeID, sql string) string {
	comp.ctes = append(comp.ctes, CTE{Name: name, NodeID: nodeID, SQL: sql})
	return name
}

// placeholder records one error and emits an empty CTE in place of the
// offending node.
func (comp *compilation) placeholder(nodeID, msg string) string {
	comp.fail(nodeID, msg)
	note := strings.ReplaceAll(msg, "*/", "* /")
	return comp.add(comp.next("placeholder"), nodeID,
		fmt.Sprintf("SELECT patient_id FROM %s WHERE 1 = 0 /* PLACEHOLDER: %s */", universeCTE, note))
}

func (comp *compilation) orderedPopulations(m *domain.Measure) map[domain.PopulationType][]*domain.Population {
	out := make(map[domain.PopulationType][]*domain.Population)
	for i := range m.Populations {
		p := &m.Populations[i]
		if !p.Type.IsValid() {
			comp.fail(p.ID, fmt.Sprintf("unknown population type %q", p.Type))
			continue
		}
		out[p.Type] = append(out[p.Type], p)
	}
	return out
}

// parentOf is the population each population is intersected with.
func parentOf(t domain.PopulationType) domain.PopulationType {
	switch t {
	case domain.PopulationDenominator:
		return domain.PopulationInitial
	case domain.PopulationNumeratorExclusion:
		return domain.PopulationNumerator
	case domain.PopulationInitial:
		return ""
	default:
		return domain.PopulationDenominator
	}
}

func (comp *compilation) compilePopulation(t domain.PopulationType, p *domain.Population, done map[domain.PopulationType]string) string {
	comp.population = t
	defer func() { comp.population = "" }()
	return comp.populationCTE(string(t), p, done)
}

func (comp *compilation) populationCTE(name string, p *domain.Population, done map[domain.PopulationType]string) string {
	t := comp.population
	parent := done[parentOf(t)]

	var crit *domain.LogicalClause
	nodeID := ""
	if p != nil {
		crit, nodeID = p.Criteria, p.ID
	}

	if crit.IsEmpty() {
		switch t {
		case domain.PopulationInitial:
			return comp.add(name, nodeID, "SELECT patient_id FROM "+universeCTE)
		case domain.PopulationDenominator:
			return comp.add(name, nodeID, "SELECT patient_id FROM "+parent)
		default:
			return comp.add(name, nodeID, fmt.Sprintf("SELECT patient_id FROM %s WHERE 1 = 0", universeCTE))
		}
	}

	root := comp.clause(crit)
	if parent == "" {
		return comp.add(name, nodeID, "SELECT patient_id FROM "+root)
	}
	return comp.add(name, nodeID, fmt.Sprintf("SELECT patient_id FROM %s\nINTERSECT\nSELECT patient_id FROM %s", root, parent))
}

func (comp *compilation) node(n domain.CriteriaNode) string {
	if err := n.Check(); err != nil {
		return comp.placeholder(n.ID(), err.Error())
	}
	if n.Kind == domain.NodeClause {
		return comp.clause(n.Clause)
	}
	return comp.element(n.Element)
}

func (comp *compilation) clause(cl *domain.LogicalClause) string {
	switch cl.Operator {
	case domain.OperatorNot:
		if len(cl.Children) != 1 {
			return comp.placeholder(cl.ID, fmt.Sprintf("NOT clause %s must have exactly one child, has %d", cl.ID, len(cl.Children)))
		}
		child := comp.node(cl.Children[0])
		return comp.add(comp.next("not"), cl.ID, exceptUniverse(child))
	case domain.OperatorAnd, domain.OperatorOr:
	default:
		return comp.placeholder(cl.ID, fmt.Sprintf("clause %s has invalid operator %q", cl.ID, cl.Operator))
	}

	if len(cl.Children) == 0 {
		comp.warn(cl.ID, fmt.Sprintf("empty %s clause", cl.Operator))
		if cl.Operator == domain.OperatorAnd {
			return universeCTE
		}
		return comp.add(comp.next("clause"), cl.ID, fmt.Sprintf("SELECT patient_id FROM %s WHERE 1 = 0", universeCTE))
	}

	names := make([]string, len(cl.Children))
	for i, child := range cl.Children {
		names[i] = comp.node(child)
	}
	if len(names) == 1 {
		return names[0]
	}
	setOp := "INTERSECT"
	if cl.Operator == domain.OperatorOr {
		setOp = "UNION"
	}
	selects := make([]string, len(names))
	for i, n := range names {
		selects[i] = "SELECT patient_id FROM " + n
	}
	return comp.add(comp.next("clause"), cl.ID, strings.Join(selects, "\n"+setOp+"\n"))
}

func exceptUniverse(name string) string {
	return fmt.Sprintf("SELECT patient_id FROM %s\nEXCEPT\nSELECT patient_id FROM %s", universeCTE, name)
}

// leafQuery collects the pieces of one leaf's SELECT.
type leafQuery struct {
	from  string
	joins []string
	where []string
}

func (q *leafQuery) sql(patientExpr string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT DISTINCT %s AS patient_id\nFROM %s", patientExpr, q.from)
	for _, j := range q.joins {
		sb.WriteString("\n" + j)
	}
	if len(q.where) > 0 {
		sb.WriteString("\nWHERE " + strings.Join(q.where, "\n  AND "))
	}
	return sb.String()
}

func (comp *compilation) element(e *domain.DataElement) string {
	if e.Type == "" {
		return comp.placeholder(e.ID, fmt.Sprintf("element %s has no element type", e.ID))
	}

	var base string
	var ok bool
	if e.Type == domain.ElementDemographic {
		base, ok = comp.demographic(e)
	} else {
		base, ok = comp.fact(e)
	}
	if !ok {
		return base
	}
	if e.Negation {
		return comp.add(comp.next("not"), e.ID, exceptUniverse(base))
	}
	return base
}

func (comp *compilation) demographic(e *domain.DataElement) (string, bool) {
	cfg := comp.cfg
	q := &leafQuery{from: cfg.PatientTable + " p"}
	if th := e.Thresholds; th != nil {
		age := fmt.Sprintf("DATE_PART('year', AGE(%s, p.%s))", comp.end, cfg.BirthDateColumn)
		if th.AgeMin != nil {
			q.where = append(q.where, fmt.Sprintf("%s >= %s", age, formatNumber(*th.AgeMin)))
		}
		if th.AgeMax != nil {
			q.where = append(q.where, fmt.Sprintf("%s <= %s", age, formatNumber(*th.AgeMax)))
		}
	}
	if codes := comp.codesFor(e); len(codes) > 0 {
		values := make([]string, len(codes))
		for i, code := range codes {
			values[i] = quote(code.Code)
		}
		sort.Strings(values)
		q.where = append(q.where, fmt.Sprintf("p.%s IN (%s)", cfg.GenderColumn, strings.Join(values, ", ")))
	}
	if len(q.where) == 0 {
		comp.warn(e.ID, "demographic element has no age range or codes; it matches every patient")
	}
	return comp.add(comp.next("leaf"), e.ID, q.sql("p."+cfg.PatientIDColumn)), true
}

func (comp *compilation) fact(e *domain.DataElement) (string, bool) {
	ft, ok := comp.cfg.FactTables[strings.ToLower(string(e.Type))]
	if !ok || ft.Table == "" {
		return comp.placeholder(e.ID, fmt.Sprintf("unrecognized element type %q", e.Type)), false
	}
	q := &leafQuery{from: ft.Table + " f"}

	membership, hasCodes := comp.membership(e, ft)
	if !hasCodes {
		comp.warn(e.ID, "no codes found for this logic block")
	}
	q.where = append(q.where, membership)

	if e.Timing != nil {
		preds, join, err := comp.timing(e.Timing, "f."+ft.DateColumn, ft)
		if err != nil {
			return comp.placeholder(e.ID, err.Error()), false
		}
		if join != "" {
			q.joins = append(q.joins, join)
		}
		q.where = append(q.where, preds...)
	}

	if th := e.Thresholds; th != nil {
		if (th.ValueMin != nil || th.ValueMax != nil) && ft.ValueColumn == "" {
			return comp.placeholder(e.ID, fmt.Sprintf("value thresholds on %s but table %s has no value column", e.Type, ft.Table)), false
		}
		if th.ValueMin != nil {
			q.where = append(q.where, fmt.Sprintf("f.%s >= %s", ft.ValueColumn, formatNumber(*th.ValueMin)))
		}
		if th.ValueMax != nil {
			q.where = append(q.where, fmt.Sprintf("f.%s <= %s", ft.ValueColumn, formatNumber(*th.ValueMax)))
		}
		if th.AgeMin != nil || th.AgeMax != nil {
			q.joins = append(q.joins, fmt.Sprintf("JOIN %s p ON p.%s = f.%s", comp.cfg.PatientTable, comp.cfg.PatientIDColumn, ft.PatientColumn))
			age := fmt.Sprintf("DATE_PART('year', AGE(f.%s, p.%s))", ft.DateColumn, comp.cfg.BirthDateColumn)
			if th.AgeMin != nil {
				q.where = append(q.where, fmt.Sprintf("%s >= %s", age, formatNumber(*th.AgeMin)))
			}
			if th.AgeMax != nil {
				q.where = append(q.where, fmt.Sprintf("%s <= %s", age, formatNumber(*th.AgeMax)))
			}
		}
	}

	comp.clinical++
	return comp.add(comp.next("leaf"), e.ID, q.sql("f."+ft.PatientColumn)), true
}

// codesFor returns the element's codes, falling back to the measure's
// value-set catalog when the element carries only an identifier.
func (comp *compilation) codesFor(e *domain.DataElement) []domain.Code {
	if codes := e.Codes(); len(codes) > 0 {
		return codes
	}
	if e.ValueSet != nil && comp.measure != nil {
		if vs, ok := comp.measure.CatalogValueSet(e.ValueSet.ID); ok {
			return domain.UniqueCodes(vs.Codes)
		}
	}
	return nil
}

// membership renders the value-set predicate of a leaf. With no inline codes
// it falls back to the value-set table; with neither it matches nothing.
func (comp *compilation) membership(e *domain.DataElement, ft domain.FactTableConfig) (string, bool) {
	codes := comp.codesFor(e)
	vsID := ""
	if e.ValueSet != nil {
		vsID = strings.TrimPrefix(strings.TrimSpace(e.ValueSet.ID), "urn:oid:")
	}
	if len(codes) > 0 && (comp.cfg.InlineCodes || vsID == "" || comp.cfg.ValueSetTable == "") {
		return codeList("f", ft, codes), true
	}
	if vsID != "" && comp.cfg.ValueSetTable != "" {
		return valueSetSubquery("f", ft, comp.cfg.ValueSetTable, vsID), true
	}
	return "FALSE /* no codes */", false
}

func codeList(alias string, ft domain.FactTableConfig, codes []domain.Code) string {
	bySystem := make(map[string][]string)
	for _, c := range codes {
		system := ""
		if ft.SystemColumn != "" {
			system = c.System
		}
		bySystem[system] = append(bySystem[system], quote(c.Code))
	}
	systems := make([]string, 0, len(bySystem))
	for s := range bySystem {
		systems = append(systems, s)
	}
	sort.Strings(systems)

	parts := make([]string, 0, len(systems))
	for _, s := range systems {
		values := bySystem[s]
		sort.Strings(values)
		in := fmt.Sprintf("%s.%s IN (%s)", alias, ft.CodeColumn, strings.Join(values, ", "))
		if s == "" {
			parts = append(parts, in)
			continue
		}
		parts = append(parts, fmt.Sprintf("(%s.%s = %s AND %s)", alias, ft.SystemColumn, quote(s), in))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func valueSetSubquery(alias string, ft domain.FactTableConfig, table, valueSetID string) string {
	if ft.SystemColumn == "" {
		return fmt.Sprintf("%s.%s IN (SELECT code FROM %s WHERE value_set_id = %s)", alias, ft.CodeColumn, table, quote(valueSetID))
	}
	return fmt.Sprintf("(%s.%s, %s.%s) IN (SELECT code_system, code FROM %s WHERE value_set_id = %s)",
		alias, ft.SystemColumn, alias, ft.CodeColumn, table, quote(valueSetID))
}

// timing lowers a timing constraint on dateExpr into predicates, plus a join
// when the constraint is relative to an index event.
func (comp *compilation) timing(t *domain.Timing, dateExpr string, ft domain.FactTableConfig) ([]string, string, error) {
	if t.Operator == "" && t.Anchor == "" && t.Offset == nil {
		return nil, "", nil
	}
	if ft.DateColumn == "" {
		return nil, "", fmt.Errorf("timing on table %s which has no date column", ft.Table)
	}
	op := NormalizeTimingOperator(t.Operator)
	if op == "" {
		op = domain.TimingDuring
	}
	switch op {
	case domain.TimingDuring, domain.TimingBefore, domain.TimingAfter, domain.TimingWithin:
	default:
		return nil, "", fmt.Errorf("unsupported timing operator %q", t.Operator)
	}

	var interval string
	var dir domain.OffsetDirection
	if t.Offset != nil && t.Offset.Value != 0 {
		unit, ok := NormalizeTimeUnit(t.Offset.Unit)
		if !ok {
			return nil, "", fmt.Errorf("unsupported offset unit %q", t.Offset.Unit)
		}
		interval = fmt.Sprintf("INTERVAL '%s %s'", FormatOffsetValue(t.Offset.Value), unit)
		dir = domain.OffsetDirection(NormalizeName(string(t.Offset.Direction)))
	}

	anchor := NormalizeAnchor(t)
	var join string
	var from, to string
	switch anchor {
	case domain.AnchorMeasurementPeriod, "":
		from, to = comp.start, comp.end
	case domain.AnchorMeasurementPeriodStart:
		from, to = comp.start, comp.start
	case domain.AnchorMeasurementPeriodEnd:
		from, to = comp.end, comp.end
	case domain.AnchorToday:
		from, to = "CURRENT_DATE", "CURRENT_DATE"
	case domain.AnchorIndexEvent:
		name, err := comp.indexEvent(t.IndexEvent)
		if err != nil {
			return nil, "", err
		}
		alias := "ie"
		join = fmt.Sprintf("JOIN %s %s ON %s.patient_id = f.%s", name, alias, alias, ft.PatientColumn)
		from, to = alias+".index_date", alias+".index_date"
	default:
		return nil, "", fmt.Errorf("unsupported timing anchor %q", t.Anchor)
	}

	return windowPredicates(op, dateExpr, from, to, interval, dir), join, nil
}

// windowPredicates renders the date window for one operator. from and to are
// the bounds of the anchor; for point anchors they are equal.
func windowPredicates(op domain.TimingOperator, date, from, to, interval string, dir domain.OffsetDirection) []string {
	switch op {
	case domain.TimingBefore:
		if interval == "" {
			return []string{fmt.Sprintf("%s < %s", date, from)}
		}
		return []string{fmt.Sprintf("%s >= %s - %s", date, from, interval), fmt.Sprintf("%s < %s", date, from)}
	case domain.TimingAfter:
		if interval == "" {
			return []string{fmt.Sprintf("%s > %s", date, to)}
		}
		return []string{fmt.Sprintf("%s > %s", date, to), fmt.Sprintf("%s <= %s + %s", date, to, interval)}
	case domain.TimingWithin:
		if interval == "" {
			return []string{fmt.Sprintf("%s BETWEEN %s AND %s", date, from, to)}
		}
		switch dir {
		case domain.DirectionBefore:
			return []string{fmt.Sprintf("%s BETWEEN %s - %s AND %s", date, from, interval, to)}
		case domain.DirectionAfter:
			return []string{fmt.Sprintf("%s BETWEEN %s AND %s + %s", date, from, to, interval)}
		default:
			return []string{fmt.Sprintf("%s BETWEEN %s - %s AND %s + %s", date, from, interval, to, interval)}
		}
	default:
		if interval == "" {
			return []string{fmt.Sprintf("%s BETWEEN %s AND %s", date, from, to)}
		}
		if dir == domain.DirectionAfter {
			return []string{fmt.Sprintf("%s BETWEEN %s AND %s + %s", date, from, to, interval)}
		}
		return []string{fmt.Sprintf("%s BETWEEN %s - %s AND %s", date, from, interval, to)}
	}
}

func indexEventKey(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(NormalizeName(name))
}

// indexEvent returns the CTE holding each patient's index date, generating
// it on first use.
func (comp *compilation) indexEvent(name string) (string, error) {
	key := indexEventKey(name)
	if key == "" {
		return "", fmt.Errorf("index-event timing without an index event")
	}
	if cte, ok := comp.indexNames[key]; ok {
		return cte, nil
	}
	ev, ok := comp.cfg.IndexEvents[key]
	if !ok {
		return "", fmt.Errorf("unknown index event %q", name)
	}
	ft, ok := comp.cfg.FactTables[strings.ToLower(ev.ElementType)]
	if !ok || ft.DateColumn == "" {
		return "", fmt.Errorf("index event %q uses unrecognized element type %q", name, ev.ElementType)
	}

	var membership string
	vsID := strings.TrimPrefix(ev.ValueSetID, "urn:oid:")
	if vs, found := comp.catalog(ev.ValueSetID); found && len(vs.Codes) > 0 && (comp.cfg.InlineCodes || comp.cfg.ValueSetTable == "") {
		membership = codeList("f", ft, vs.Codes)
	} else if comp.cfg.ValueSetTable != "" && vsID != "" {
		membership = valueSetSubquery("f", ft, comp.cfg.ValueSetTable, vsID)
	} else {
		return "", fmt.Errorf("index event %q has no resolvable value set", name)
	}

	agg := "MIN"
	if strings.EqualFold(ev.Select, "last") {
		agg = "MAX"
	}
	cte := "index_" + key
	sql := fmt.Sprintf("SELECT f.%s AS patient_id, %s(f.%s) AS index_date\nFROM %s f\nWHERE %s\n  AND f.%s BETWEEN %s AND %s\nGROUP BY f.%s",
		ft.PatientColumn, agg, ft.DateColumn, ft.Table, membership, ft.DateColumn, comp.start, comp.end, ft.PatientColumn)
	comp.indexCTEs = append(comp.indexCTEs, CTE{Name: cte, SQL: sql})
	comp.indexNames[key] = cte
	return cte, nil
}

func (comp *compilation) catalog(id string) (*domain.ValueSetRef, bool) {
	if comp.measure == nil {
		return nil, false
	}
	if vs, ok := comp.measure.CatalogValueSet(id); ok {
		return vs, true
	}
	return comp.measure.CatalogValueSet(strings.TrimPrefix(id, "urn:oid:"))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// dateLiteral renders a configured date. Unparseable input is quoted as-is
// so it fails in the database rather than here.
func dateLiteral(s string) string {
	if t, err := time.Parse(dateLayout, strings.TrimSpace(s)); err == nil {
		return "DATE '" + t.Format(dateLayout) + "'"
	}
	return "DATE " + quote(s)
}

func formatNumber(f float64) string {
	return FormatOffsetValue(f)
}
