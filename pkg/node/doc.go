// Package node resolves persisted cluster members into handles that carry a
// live agent client, and checks their infrastructure state before workflows
// touch them.
package node
