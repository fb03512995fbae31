// Package threshold reduces a series to its mean and classifies the mean
// against optional min/max bounds.
package threshold
