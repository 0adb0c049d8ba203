// Package model defines the database models for accessd.
//
// This package contains GORM models that map to the accessd database schema.
// The catalog tables (portals, modules, contents) are read-only input for
// this engine; they are owned by the content-authoring flows. The
// enrollments table is the only table this engine writes.
//
// # Core Models
//
//   - Portal: top-level access boundary
//   - Module: catalog node, arbitrarily nested per portal
//   - Content: leaf item, always belongs to exactly one module
//   - Enrollment: per-user-per-portal access grant
//   - Permission: the typed grant payload stored as JSONB on an enrollment
//
// # Database Schema
//
// The database uses PostgreSQL with the following key tables:
//
//   - portals: access boundaries
//   - modules: catalog hierarchy (parent_module_id is a nullable self
//     reference and is treated as unvalidated foreign data)
//   - contents: leaf items
//   - enrollments: grants, unique on (user_id, portal_id)
package model
