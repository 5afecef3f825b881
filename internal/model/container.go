package model

// ContainerType categorizes containers and carries the per-container fee
// added on top of the route price.
type ContainerType struct {
    ID    int64  // container_type.id
    Type  string // container_type.type
    Price int64  // container_type.price
}

// Container is a unit of cargo located at a harbor.  A container whose most
// recently created reservation link points at a route that has not yet
// arrived is considered in transit and cannot be booked again; the worker
// moves harbor_id to the destination eagerly when allocating, so harbor_id
// reflects where the container is, or will next be.
type Container struct {
    ID       int64  // container.id
    Name     string // container.name
    Size     string // container.size
    TypeID   int64  // container.type_id
    HarborID int64  // container.harbor_id
}
