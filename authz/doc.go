// Package authz implements hierarchical role-based access control:
// role definitions with single inheritance, Redis-backed role
// assignments, and permission checks against the resolved effective
// set.
//
// Permissions are domain:action strings. domain:* expands to every
// cataloged action of the domain and system:* to the whole catalog;
// expansion always runs against the [Catalog], so a wildcard can never
// grant an action that was not declared. Hierarchy rules are enforced
// when roles are written: self-parenting and cycles are rejected, and
// no inheritance chain may exceed [MaxHierarchyDepth].
//
// Checks fail closed. A Redis error resolving assignments denies the
// request; it never falls through to an allow.
package authz
