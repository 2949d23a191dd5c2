/*
Utility library for golang

The utility library provides basic ingredients to create a standalone
program that is configured via YAML and which interacts sensibly with
its environment.
* dynamically update with configuration changes
* take appropriate action on signal
* log output sensibly

*/
package u
