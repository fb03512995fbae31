// Package composite derives one series from two by applying sum, divide or
// multiply sample by sample. Positions the operation cannot produce a value
// for are dropped, never filled with a placeholder.
package composite
