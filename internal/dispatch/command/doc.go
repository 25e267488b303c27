// Package command defines the command envelope and the command-type catalogue
// used by the dispatch loop.
//
// Commands express intent. Each application declares a closed family of
// command payload structs; every member implements Payload so the loop can
// route it by its Type discriminator without reflection.
package command
