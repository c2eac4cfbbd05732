// Package schedule plans a training run: the per-epoch batch sizes,
// sequence lengths and learning rates, and the chunks each dataset is split
// into for training, validation and forwarding. Each chunk gets its own
// configuration file, rendered from the experiment.
package schedule
