// Package device defines the local device catalogue and its persistence.
//
// A device row is the local view of a physical IoT device. Devices linked
// to an integration carry the external registry identifier they were
// imported from; sync runs reconcile the local row against the remote
// record through that link.
package device
