// Package dataset packages an RGB-D recording into a single archive.
//
// Ground-truth poses are the base stream. Each pose is associated with the
// nearest colour and depth frame, and the frames are decoded into fixed
// shape arrays next to the pose and its timestamp.
package dataset
