package policy

import (
	"github.com/veridata/fieldgate/pkg/actor"
)

// Default returns the built-in policy table covering the stock resource
// types. Deployments with their own collections load a YAML table instead;
// this table doubles as the reference configuration for tests.
func Default() *Table {
	table, err := NewTable(DefaultResources())
	if err != nil {
		// The built-in table is validated by tests; reaching this is a bug.
		panic(err)
	}
	return table
}

// DefaultResources returns the stock resource configurations
func DefaultResources() []ResourceConfig {
	staff := []actor.Role{actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing, actor.RoleAdvisor}
	staffAndReadonly := append(append([]actor.Role{}, staff...), actor.RoleReadonly)

	return []ResourceConfig{
		{
			Type:           "student",
			OwnerField:     "assigned_to",
			Audited:        true,
			ConsentBearing: true,
			Create:         []actor.Role{actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor},
			Delete:         []actor.Role{actor.RoleAdmin},
			Read:           AllowRoles(staffAndReadonly...),
			Update:         AllowOwnerOrRoles("assigned_to", actor.RoleAdmin, actor.RoleManager),
			Immutable:      []string{"dni"},
			ErasureCascade: []CascadeRule{{Type: "lead", ForeignKey: "student_id"}},
			Fields: []FieldPolicy{
				field("first_name", AllowRoles(staffAndReadonly...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor)),
				field("last_name", AllowRoles(staffAndReadonly...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor)),
				field("email", AllowRoles(staffAndReadonly...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor)),
				field("phone", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor)),
				// National identity number and emergency contact are withheld
				// from readonly actors entirely.
				field("dni", AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor), AllowRoles(actor.RoleAdmin)),
				field("emergency_contact_phone", AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor)),
				field("status", AllowRoles(staffAndReadonly...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor)),
				field("notes", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleAdvisor)),
				field("assigned_to", AllowRoles(staffAndReadonly...), AllowRoles(actor.RoleAdmin, actor.RoleManager)),
				consentField(FieldConsentGiven, staff),
				consentField(FieldConsentTimestamp, staff),
				consentField(FieldOriginAddress, []actor.Role{actor.RoleAdmin, actor.RoleManager}),
			},
		},
		{
			Type:           "lead",
			OwnerField:     "assigned_to",
			Audited:        true,
			ConsentBearing: true,
			// Anonymous create supports public enrollment forms.
			Create: []actor.Role{actor.RoleAdmin, actor.RoleMarketing, actor.RoleAnonymous},
			Delete: []actor.Role{actor.RoleAdmin},
			Read:   AllowRoles(staff...),
			Update: AllowOwnerOrRoles("assigned_to", actor.RoleAdmin, actor.RoleMarketing),
			Fields: []FieldPolicy{
				writableOnCreate("email", staff),
				writableOnCreate("name", staff),
				writableOnCreate("phone", staff),
				writableOnCreate("course_id", staff),
				writableOnCreate("utm_source", staff),
				writableOnCreate("utm_medium", staff),
				field("status", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleMarketing, actor.RoleAdvisor)),
				field("assigned_to", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing)),
				field("student_id", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager)),
				consentField(FieldConsentGiven, staff),
				consentField(FieldConsentTimestamp, staff),
				consentField(FieldOriginAddress, []actor.Role{actor.RoleAdmin, actor.RoleManager}),
			},
		},
		{
			Type:       "campaign",
			OwnerField: "created_by",
			Audited:    true,
			Create:     []actor.Role{actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing},
			Delete:     []actor.Role{actor.RoleAdmin, actor.RoleManager},
			Read:       AllowRoles(staff...),
			Update:     AllowOwnerOrRoles("created_by", actor.RoleAdmin),
			// Campaigns must be archived before deletion.
			DeletePrecondition: RowFilter{"status": "archived"},
			// Lead counters are system-derived and never client-writable
			// after creation.
			Immutable: []string{"total_leads"},
			Fields: []FieldPolicy{
				field("name", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing)),
				field("budget", AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing), AllowOwnerOrRoles("created_by", actor.RoleAdmin)),
				field("utm_source", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
				field("utm_medium", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
				field("status", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing)),
				field("total_leads", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing)),
				field("created_by", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager, actor.RoleMarketing)),
			},
		},
		{
			Type:       "course",
			OwnerField: "created_by",
			Create:     []actor.Role{actor.RoleAdmin, actor.RoleManager},
			Delete:     []actor.Role{actor.RoleAdmin},
			// Published courses are world-readable; staff see everything.
			Read:                Rule{Kind: RuleAllowAll, Roles: staffAndReadonly},
			Update:              AllowRoles(actor.RoleAdmin, actor.RoleManager),
			PublicReadCondition: RowFilter{"status": "published"},
			Fields: []FieldPolicy{
				field("name", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleManager)),
				field("description", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleManager)),
				field("price", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleManager)),
				field("status", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleManager)),
				field("created_by", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleManager)),
			},
		},
		{
			Type:                "blog_post",
			OwnerField:          "created_by",
			Create:              []actor.Role{actor.RoleAdmin, actor.RoleMarketing},
			Delete:              []actor.Role{actor.RoleAdmin, actor.RoleMarketing},
			Read:                Rule{Kind: RuleAllowAll, Roles: staffAndReadonly},
			Update:              AllowOwnerOrRoles("created_by", actor.RoleAdmin),
			PublicReadCondition: RowFilter{"status": "published"},
			Fields: []FieldPolicy{
				field("title", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
				field("slug", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
				field("body", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
				field("seo_description", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
				field("status", AllowAll(), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
				field("created_by", AllowRoles(staff...), AllowRoles(actor.RoleAdmin, actor.RoleMarketing)),
			},
		},
		{
			// The audit collection is readable by privileged roles only and
			// never writable through the generic pipeline; the erasure path
			// is the single deletion route.
			Type:   "audit_entry",
			Create: nil,
			Delete: nil,
			Read:   AllowRoles(actor.RoleAdmin, actor.RoleManager),
			Update: DenyAll(),
			Fields: []FieldPolicy{
				field("action", AllowRoles(actor.RoleAdmin, actor.RoleManager), DenyAll()),
				field("resource_type", AllowRoles(actor.RoleAdmin, actor.RoleManager), DenyAll()),
				field("resource_id", AllowRoles(actor.RoleAdmin, actor.RoleManager), DenyAll()),
				field("actor_id", AllowRoles(actor.RoleAdmin, actor.RoleManager), DenyAll()),
				field("outcome", AllowRoles(actor.RoleAdmin, actor.RoleManager), DenyAll()),
			},
		},
	}
}

func field(name string, read, write Rule) FieldPolicy {
	return FieldPolicy{Name: name, Read: &read, Write: &write}
}

// writableOnCreate declares a lead intake field: staff can read it, and
// anonymous submitters may supply it at creation time. Immutability of
// consent provenance is enforced separately by the guard.
func writableOnCreate(name string, readers []actor.Role) FieldPolicy {
	write := AllowRoles(actor.RoleAdmin, actor.RoleMarketing, actor.RoleAnonymous)
	read := AllowRoles(readers...)
	return FieldPolicy{Name: name, Read: &read, Write: &write}
}

func consentField(name string, readers []actor.Role) FieldPolicy {
	read := AllowRoles(readers...)
	write := DenyAll()
	return FieldPolicy{Name: name, Read: &read, Write: &write}
}
