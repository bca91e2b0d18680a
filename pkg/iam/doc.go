// Package iam implements the deny-by-default authorization kernel:
// users, organizations, projects, roles, and the permission/role
// bindings between them, plus the dotted-triple wildcard matching that
// decides whether a principal may perform an action. It is new code,
// built in the idiom of pkg/security.CertAuthority — a small struct
// wrapping a storage handle — since no package in the reference corpus
// implements RBAC directly.
package iam
