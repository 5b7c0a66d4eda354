package permissions

import (
	"fmt"
	"sort"
)

// Catalog is the immutable registry of permission definitions for the
// process lifetime. It is loaded once at startup and injected by
// reference wherever permission codes need resolving; nothing mutates it
// after construction, so it is safe for concurrent use.
type Catalog struct {
	defs  map[string]Definition
	codes []string
}

// NewCatalog builds a catalog from a set of definitions. Codes must be
// unique. Definitions that do not support scoping are normalized to a
// default scope of none so a stray default can never widen anything.
func NewCatalog(defs []Definition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyCatalog
	}

	byCode := make(map[string]Definition, len(defs))
	codes := make([]string, 0, len(defs))
	for _, def := range defs {
		if def.Code == "" {
			return nil, fmt.Errorf("catalog definition with empty code (category %q)", def.Category)
		}
		if _, exists := byCode[def.Code]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCode, def.Code)
		}
		if !def.SupportsScope {
			def.DefaultScope = ScopeNone
		}
		if !def.DefaultScope.Valid() {
			return nil, fmt.Errorf("catalog definition %q has invalid default scope %d", def.Code, int(def.DefaultScope))
		}
		byCode[def.Code] = def
		codes = append(codes, def.Code)
	}
	sort.Strings(codes)

	return &Catalog{defs: byCode, codes: codes}, nil
}

// Get resolves a permission code. Unknown codes are a configuration
// defect and fail with a ConfigurationError.
func (c *Catalog) Get(code string) (Definition, error) {
	def, ok := c.defs[code]
	if !ok {
		return Definition{}, &ConfigurationError{Code: code}
	}
	return def, nil
}

// Has reports whether the catalog defines the given code.
func (c *Catalog) Has(code string) bool {
	_, ok := c.defs[code]
	return ok
}

// List returns definitions in code order. With a non-empty category it
// returns only definitions in that category.
func (c *Catalog) List(category string) []Definition {
	defs := make([]Definition, 0, len(c.codes))
	for _, code := range c.codes {
		def := c.defs[code]
		if category != "" && def.Category != category {
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

// Codes returns all registered permission codes in sorted order.
func (c *Catalog) Codes() []string {
	out := make([]string, len(c.codes))
	copy(out, c.codes)
	return out
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// Permission categories used by the builtin catalog.
const (
	CategoryWorkOrders = "workorders"
	CategoryAbsences   = "absences"
	CategoryDocuments  = "documents"
	CategoryChat       = "chat"
	CategoryReports    = "reports"
	CategoryAdmin      = "admin"
)

// Builtin permission codes for the workforce platform.
const (
	CodeViewWorkOrders     = "can_view_workorders"
	CodeManageWorkOrders   = "can_manage_workorders"
	CodeCompleteChecklists = "can_complete_checklists"
	CodeViewAbsences       = "can_view_absences"
	CodeRequestAbsences    = "can_request_absences"
	CodeApproveAbsences    = "can_approve_absences"
	CodeViewDocuments      = "can_view_documents"
	CodeUploadDocuments    = "can_upload_documents"
	CodeUseChat            = "can_use_chat"
	CodeModerateChat       = "can_moderate_chat"
	CodeViewReports        = "can_view_reports"
	CodeManageUsers        = "can_manage_users"
	CodeManagePermissions  = "can_manage_permissions"
)

// BuiltinDefinitions returns the compiled-in permission definitions used
// when no external catalog source is configured.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			Code:          CodeViewWorkOrders,
			Category:      CategoryWorkOrders,
			Description:   "View work orders and their checklists",
			SupportsScope: true,
			DefaultScope:  ScopeOwn,
		},
		{
			Code:          CodeManageWorkOrders,
			Category:      CategoryWorkOrders,
			Description:   "Create, assign and close work orders",
			SupportsScope: true,
			DefaultScope:  ScopeOwn,
		},
		{
			Code:          CodeCompleteChecklists,
			Category:      CategoryWorkOrders,
			Description:   "Tick off checklist items on work orders",
			SupportsScope: true,
			DefaultScope:  ScopeOwn,
		},
		{
			Code:          CodeViewAbsences,
			Category:      CategoryAbsences,
			Description:   "View absence requests",
			SupportsScope: true,
			DefaultScope:  ScopeOwn,
		},
		{
			Code:        CodeRequestAbsences,
			Category:    CategoryAbsences,
			Description: "File absence requests",
		},
		{
			Code:          CodeApproveAbsences,
			Category:      CategoryAbsences,
			Description:   "Approve or reject absence requests",
			SupportsScope: true,
			DefaultScope:  ScopeDepartment,
		},
		{
			Code:          CodeViewDocuments,
			Category:      CategoryDocuments,
			Description:   "View shared documents",
			SupportsScope: true,
			DefaultScope:  ScopeDepartment,
		},
		{
			Code:        CodeUploadDocuments,
			Category:    CategoryDocuments,
			Description: "Upload documents",
		},
		{
			Code:        CodeUseChat,
			Category:    CategoryChat,
			Description: "Participate in team chat",
		},
		{
			Code:        CodeModerateChat,
			Category:    CategoryChat,
			Description: "Moderate chat channels",
		},
		{
			Code:          CodeViewReports,
			Category:      CategoryReports,
			Description:   "View operational reports",
			SupportsScope: true,
			DefaultScope:  ScopeDepartment,
		},
		{
			Code:        CodeManageUsers,
			Category:    CategoryAdmin,
			Description: "Administer user accounts",
		},
		{
			Code:        CodeManagePermissions,
			Category:    CategoryAdmin,
			Description: "Author permission mappings",
		},
	}
}

// BuiltinCatalog returns a catalog over BuiltinDefinitions. It panics on
// error because the builtin definitions are compiled in and validated by
// tests.
func BuiltinCatalog() *Catalog {
	catalog, err := NewCatalog(BuiltinDefinitions())
	if err != nil {
		panic(fmt.Sprintf("builtin catalog invalid: %v", err))
	}
	return catalog
}
